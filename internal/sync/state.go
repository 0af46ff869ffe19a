package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tildaslashalef/tether/internal/element"
)

// ConflictTag marks an element with an unresolved manual conflict
const ConflictTag = element.ConflictTag

// Direction limits which way an element syncs
type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionPush          Direction = "push"
	DirectionPull          Direction = "pull"
)

// ParseDirection validates a direction name; empty means bidirectional
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionBidirectional:
		return DirectionBidirectional, nil
	case DirectionPush, DirectionPull:
		return Direction(s), nil
	}
	return "", fmt.Errorf("invalid sync direction %q", s)
}

// CanPush reports whether local changes flow to the provider
func (d Direction) CanPush() bool {
	return d == DirectionPush || d == DirectionBidirectional || d == ""
}

// CanPull reports whether remote changes flow to the element
func (d Direction) CanPull() bool {
	return d == DirectionPull || d == DirectionBidirectional || d == ""
}

// ConflictRecord is the durable snapshot of an unresolved manual conflict
type ConflictRecord struct {
	Local      map[string]any `json:"local"`
	Remote     map[string]any `json:"remote"`
	Fields     []string       `json:"fields"`
	DetectedAt time.Time      `json:"detectedAt"`
	Strategy   Strategy       `json:"strategy"`
}

// SyncState links an element to one external item. It lives in the
// element's metadata and is only ever written by the engine.
type SyncState struct {
	Provider       string          `json:"provider"`
	Project        string          `json:"project"`
	ExternalID     string          `json:"externalId"`
	URL            string          `json:"url,omitempty"`
	Direction      Direction       `json:"direction"`
	AdapterType    element.Type    `json:"adapterType"`
	LastPushedHash string          `json:"lastPushedHash,omitempty"`
	LastPushedAt   *time.Time      `json:"lastPushedAt,omitempty"`
	LastPulledHash string          `json:"lastPulledHash,omitempty"`
	LastPulledAt   *time.Time      `json:"lastPulledAt,omitempty"`
	LocalBaseline  *FieldSnapshot  `json:"localBaseline,omitempty"`
	RemoteBaseline *FieldSnapshot  `json:"remoteBaseline,omitempty"`
	Conflict       *ConflictRecord `json:"conflict,omitempty"`
}

// ReadSyncState decodes the element's sync state; nil when unlinked
func ReadSyncState(e *element.Element) (*SyncState, error) {
	if e == nil || e.Metadata == nil {
		return nil, nil
	}
	raw, ok := e.Metadata[element.ExternalSyncKey]
	if !ok || raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding sync state of %s: %w", e.ID, err)
	}

	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding sync state of %s: %w", e.ID, err)
	}
	if state.Direction == "" {
		state.Direction = DirectionBidirectional
	}
	return &state, nil
}

// Metadata returns the metadata patch that stores s.
// A nil state produces a patch that removes the link.
func (s *SyncState) Metadata() map[string]any {
	if s == nil {
		return map[string]any{element.ExternalSyncKey: nil}
	}

	data, err := json.Marshal(s)
	if err != nil {
		// Only plain values live in SyncState
		panic(fmt.Sprintf("encoding sync state: %v", err))
	}
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return map[string]any{element.ExternalSyncKey: out}
}

// IsCreated reports whether the external item exists yet
func (s *SyncState) IsCreated() bool {
	return s != nil && s.ExternalID != ""
}

// Clone returns a deep copy
func (s *SyncState) Clone() *SyncState {
	if s == nil {
		return nil
	}
	c := *s
	if s.LocalBaseline != nil {
		b := s.LocalBaseline.Clone()
		c.LocalBaseline = &b
	}
	if s.RemoteBaseline != nil {
		b := s.RemoteBaseline.Clone()
		c.RemoteBaseline = &b
	}
	if s.Conflict != nil {
		conflict := *s.Conflict
		c.Conflict = &conflict
	}
	return &c
}

// markPushed records a completed push. The remote hash is stored too so the
// provider's echo of our own write is not seen as a remote change.
func (s *SyncState) markPushed(e *element.Element, item *ExternalItem, cfg *FieldMapConfig, at time.Time) {
	s.LastPushedHash = HashLocal(e)
	s.LastPushedAt = &at
	s.markReconciled(e, item, cfg)
	if item != nil {
		s.LastPulledHash = HashRemote(item)
	}
}

// markPulled records a completed pull. The local hash is stored too so the
// applied remote values are not pushed straight back.
func (s *SyncState) markPulled(e *element.Element, item *ExternalItem, cfg *FieldMapConfig, at time.Time) {
	s.LastPulledHash = HashRemote(item)
	s.LastPulledAt = &at
	s.LastPushedHash = HashLocal(e)
	s.markReconciled(e, item, cfg)
}

func (s *SyncState) markReconciled(e *element.Element, item *ExternalItem, cfg *FieldMapConfig) {
	if item != nil {
		s.ExternalID = item.ExternalID
		if item.URL != "" {
			s.URL = item.URL
		}
	}
	if cfg == nil {
		return
	}
	local := LocalFields(e, cfg)
	s.LocalBaseline = &local
	if item != nil {
		remote := RemoteFields(item, cfg)
		s.RemoteBaseline = &remote
	}
}

// markResolved records a manual resolution of rec. Fields both sides now
// agree on join the sync point. A disputed field takes the kept value on the
// kept side's baseline and the written value on the other. Every other field
// keeps its old baseline, and a side's hash only advances when nothing else
// changed on it, so edits made while the conflict was open still sync.
func (s *SyncState) markResolved(rec *ConflictRecord, e *element.Element, item *ExternalItem, cfg *FieldMapConfig, kept map[string]any, keep Winner, at time.Time) error {
	localBase, err := resolutionBase(s.LocalBaseline, rec.Local)
	if err != nil {
		return fmt.Errorf("local baseline: %w", err)
	}
	remoteBase, err := resolutionBase(s.RemoteBaseline, rec.Remote)
	if err != nil {
		return fmt.Errorf("remote baseline: %w", err)
	}

	local := LocalFields(e, cfg)
	remote := RemoteFields(item, cfg)
	for _, f := range MappedFields {
		localValue, remoteValue := local.Value(f), remote.Value(f)
		switch v, disputed := kept[f]; {
		case fieldEqual(f, local, remote):
		case disputed && keep == WinnerLocal:
			localValue = v
		case disputed:
			remoteValue = v
		default:
			continue
		}
		if err := localBase.Set(f, localValue); err != nil {
			return err
		}
		if err := remoteBase.Set(f, remoteValue); err != nil {
			return err
		}
	}

	s.Conflict = nil
	s.LocalBaseline = &localBase
	s.RemoteBaseline = &remoteBase
	s.ExternalID = item.ExternalID
	if item.URL != "" {
		s.URL = item.URL
	}
	if sameSnapshot(local, localBase) {
		s.LastPushedHash = HashLocal(e)
		s.LastPushedAt = &at
	}
	if sameSnapshot(remote, remoteBase) {
		s.LastPulledHash = HashRemote(item)
		s.LastPulledAt = &at
	}
	return nil
}

// resolutionBase starts from the previous baseline, or from the snapshot
// stored with a conflict detected without one
func resolutionBase(prev *FieldSnapshot, stored map[string]any) (FieldSnapshot, error) {
	if prev != nil {
		return prev.Clone(), nil
	}
	values, err := coerceFieldValues(stored)
	if err != nil {
		return FieldSnapshot{}, err
	}
	return snapshotOf(values)
}

func sameSnapshot(a, b FieldSnapshot) bool {
	for _, f := range MappedFields {
		if !fieldEqual(f, a, b) {
			return false
		}
	}
	return true
}
