package sync

import (
	"fmt"
	"slices"

	"github.com/tildaslashalef/tether/internal/element"
)

// Strategy decides conflicting fields
type Strategy string

const (
	// StrategyLastWriteWins keeps the side with the newer timestamp; ties go to local
	StrategyLastWriteWins Strategy = "last_write_wins"
	// StrategyLocalWins always keeps the local value
	StrategyLocalWins Strategy = "local_wins"
	// StrategyRemoteWins always keeps the remote value
	StrategyRemoteWins Strategy = "remote_wins"
	// StrategyManual records both values for a human to pick
	StrategyManual Strategy = "manual"
)

// Strategies lists every strategy
var Strategies = []Strategy{StrategyLastWriteWins, StrategyLocalWins, StrategyRemoteWins, StrategyManual}

// ParseStrategy validates a strategy name; empty means last_write_wins
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyLastWriteWins, nil
	}
	if !slices.Contains(Strategies, Strategy(s)) {
		return "", fmt.Errorf("invalid conflict strategy %q", s)
	}
	return Strategy(s), nil
}

// Winner names the side whose values survived
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
)

// ResolveInput carries the collaborators a resolution may read.
// Any of them may be nil; the matching update map is then omitted.
type ResolveInput struct {
	Element *element.Element
	Item    *ExternalItem
	Config  *FieldMapConfig
}

// ManualConflict holds both sides of the disputed fields
type ManualConflict struct {
	Local  map[string]any
	Remote map[string]any
}

// ResolvedChanges is the outcome of resolving one conflict. LocalUpdates are
// applied to the element, RemoteUpdates are sent to the provider; both are
// keyed by mapped field name.
type ResolvedChanges struct {
	Conflict       *ConflictInfo
	Strategy       Strategy
	Resolved       bool
	Winner         Winner
	LocalUpdates   map[string]any
	RemoteUpdates  map[string]any
	ManualConflict *ManualConflict
}

// ResolveConflict applies strategy to conflict. It merges per field when the
// conflict allows it and every collaborator is present, otherwise it resolves
// the whole record.
func ResolveConflict(conflict *ConflictInfo, strategy Strategy, in *ResolveInput) *ResolvedChanges {
	if in == nil {
		in = &ResolveInput{}
	}
	if conflict.CanFieldMerge && in.Config != nil && in.Element != nil && in.Item != nil {
		return ResolveWithFieldMerge(conflict, strategy, in)
	}
	return resolveWholeRecord(conflict, strategy, in)
}

// ResolveWithFieldMerge merges one-sided field changes regardless of strategy
// and arbitrates only the conflicting fields
func ResolveWithFieldMerge(conflict *ConflictInfo, strategy Strategy, in *ResolveInput) *ResolvedChanges {
	local := LocalFields(in.Element, in.Config)
	remote := RemoteFields(in.Item, in.Config)

	localUpdates := make(map[string]any)
	remoteUpdates := make(map[string]any)
	for _, f := range conflict.LocalChangedFields {
		if !slices.Contains(conflict.RemoteChangedFields, f) {
			remoteUpdates[f] = local.Value(f)
		}
	}
	for _, f := range conflict.RemoteChangedFields {
		if !slices.Contains(conflict.LocalChangedFields, f) {
			localUpdates[f] = remote.Value(f)
		}
	}

	result := &ResolvedChanges{
		Conflict: conflict,
		Strategy: strategy,
		Resolved: true,
		Winner:   WinnerMerged,
	}

	if len(conflict.ConflictingFields) > 0 {
		switch winner := pickWinner(conflict, strategy); winner {
		case WinnerLocal:
			for _, f := range conflict.ConflictingFields {
				remoteUpdates[f] = local.Value(f)
			}
			result.Winner = winner
		case WinnerRemote:
			for _, f := range conflict.ConflictingFields {
				localUpdates[f] = remote.Value(f)
			}
			result.Winner = winner
		default:
			result.Resolved = false
			result.Winner = ""
			result.ManualConflict = &ManualConflict{
				Local:  local.Values(conflict.ConflictingFields),
				Remote: remote.Values(conflict.ConflictingFields),
			}
		}
	}

	result.LocalUpdates = nilIfEmpty(localUpdates)
	result.RemoteUpdates = nilIfEmpty(remoteUpdates)
	return result
}

func resolveWholeRecord(conflict *ConflictInfo, strategy Strategy, in *ResolveInput) *ResolvedChanges {
	result := &ResolvedChanges{
		Conflict: conflict,
		Strategy: strategy,
	}

	switch winner := pickWinner(conflict, strategy); winner {
	case WinnerLocal:
		result.Resolved = true
		result.Winner = winner
		if in.Element != nil {
			result.RemoteUpdates = LocalFields(in.Element, in.Config).Values(MappedFields)
		}
	case WinnerRemote:
		result.Resolved = true
		result.Winner = winner
		if in.Item != nil {
			result.LocalUpdates = remoteSnapshot(in.Item, in.Config).Values(MappedFields)
		}
	default:
		manual := &ManualConflict{Local: map[string]any{}, Remote: map[string]any{}}
		if in.Element != nil {
			manual.Local = LocalFields(in.Element, in.Config).Values(MappedFields)
		}
		if in.Item != nil {
			manual.Remote = remoteSnapshot(in.Item, in.Config).Values(MappedFields)
		}
		result.ManualConflict = manual
	}
	return result
}

// pickWinner returns "" for manual or unknown strategies
func pickWinner(conflict *ConflictInfo, strategy Strategy) Winner {
	switch strategy {
	case StrategyLastWriteWins:
		if conflict.RemoteUpdatedAt.After(conflict.LocalUpdatedAt) {
			return WinnerRemote
		}
		return WinnerLocal
	case StrategyLocalWins:
		return WinnerLocal
	case StrategyRemoteWins:
		return WinnerRemote
	}
	return ""
}

// remoteSnapshot falls back to the raw item fields when there is no field map
func remoteSnapshot(item *ExternalItem, cfg *FieldMapConfig) FieldSnapshot {
	if cfg != nil {
		return RemoteFields(item, cfg)
	}
	status := element.StatusOpen
	if item.State == StateClosed {
		status = element.StatusClosed
	}
	return FieldSnapshot{
		Title:     item.Title,
		Body:      item.Body,
		Status:    status,
		Tags:      userTags(item.Labels),
		Assignees: nonNil(item.Assignees),
	}
}

func nilIfEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}
