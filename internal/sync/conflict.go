package sync

import (
	"slices"
	"time"

	"github.com/tildaslashalef/tether/internal/element"
)

// ConflictInfo describes an element whose local and remote sides both
// changed since the last sync point
type ConflictInfo struct {
	ElementID           string    `json:"elementId"`
	ExternalID          string    `json:"externalId"`
	Provider            string    `json:"provider"`
	Project             string    `json:"project"`
	LocalUpdatedAt      time.Time `json:"localUpdatedAt"`
	RemoteUpdatedAt     time.Time `json:"remoteUpdatedAt"`
	LocalChangedFields  []string  `json:"localChangedFields"`
	RemoteChangedFields []string  `json:"remoteChangedFields"`
	ConflictingFields   []string  `json:"conflictingFields"`
	CanFieldMerge       bool      `json:"canFieldMerge"`
	DetectedAt          time.Time `json:"detectedAt,omitempty"`
}

// DetectOptions enables the per-field diff. All three are required for it.
type DetectOptions struct {
	Config         *FieldMapConfig
	LocalBaseline  *FieldSnapshot
	RemoteBaseline *FieldSnapshot
}

func (o *DetectOptions) fieldLevel() bool {
	return o != nil && o.Config != nil && o.LocalBaseline != nil && o.RemoteBaseline != nil
}

// HasLocalChanged reports whether the element differs from what was last pushed
func HasLocalChanged(e *element.Element, state *SyncState) bool {
	if state == nil || state.LastPushedHash == "" {
		return true
	}
	return HashLocal(e) != state.LastPushedHash
}

// HasRemoteChanged reports whether the item differs from what was last pulled
func HasRemoteChanged(item *ExternalItem, state *SyncState) bool {
	if state == nil || state.LastPulledHash == "" {
		return true
	}
	return HashRemote(item) != state.LastPulledHash
}

// DetectConflict returns nil unless both sides changed. With baselines it
// lists the changed fields per side; fields changed on both sides to the same
// value converge and are not conflicting.
func DetectConflict(e *element.Element, item *ExternalItem, state *SyncState, opts *DetectOptions) *ConflictInfo {
	if !HasLocalChanged(e, state) || !HasRemoteChanged(item, state) {
		return nil
	}

	info := &ConflictInfo{
		ElementID:       e.ID,
		ExternalID:      item.ExternalID,
		Provider:        item.Provider,
		Project:         item.Project,
		LocalUpdatedAt:  e.UpdatedAt,
		RemoteUpdatedAt: item.UpdatedAt,
	}
	if state != nil {
		if info.ExternalID == "" {
			info.ExternalID = state.ExternalID
		}
		if info.Provider == "" {
			info.Provider = state.Provider
		}
		if info.Project == "" {
			info.Project = state.Project
		}
	}

	if !opts.fieldLevel() {
		info.LocalChangedFields = []string{WholeRecord}
		info.RemoteChangedFields = []string{WholeRecord}
		info.ConflictingFields = []string{WholeRecord}
		return info
	}

	local := LocalFields(e, opts.Config)
	remote := RemoteFields(item, opts.Config)

	info.LocalChangedFields = []string{}
	info.RemoteChangedFields = []string{}
	info.ConflictingFields = []string{}
	for _, f := range MappedFields {
		localChanged := !fieldEqual(f, local, *opts.LocalBaseline)
		remoteChanged := !fieldEqual(f, remote, *opts.RemoteBaseline)
		if localChanged {
			info.LocalChangedFields = append(info.LocalChangedFields, f)
		}
		if remoteChanged {
			info.RemoteChangedFields = append(info.RemoteChangedFields, f)
		}
		if localChanged && remoteChanged && !fieldEqual(f, local, remote) {
			info.ConflictingFields = append(info.ConflictingFields, f)
		}
	}

	info.CanFieldMerge = len(info.ConflictingFields) < len(info.LocalChangedFields) ||
		len(info.ConflictingFields) < len(info.RemoteChangedFields)
	return info
}

// IsWholeRecord reports whether the conflict has no per-field detail
func (c *ConflictInfo) IsWholeRecord() bool {
	return slices.Contains(c.ConflictingFields, WholeRecord)
}
