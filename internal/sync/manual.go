package sync

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/tildaslashalef/tether/internal/element"
)

// ApplyManualConflict returns the patch that makes a manual conflict durable:
// the conflict tag plus both value snapshots under the sync state
func ApplyManualConflict(e *element.Element, conflict *ConflictInfo, local, remote map[string]any) (element.Patch, error) {
	state, err := ReadSyncState(e)
	if err != nil {
		return element.Patch{}, err
	}
	if state == nil {
		return element.Patch{}, ErrNotLinked
	}

	detectedAt := conflict.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}
	fields := slices.Clone(conflict.ConflictingFields)
	if len(fields) == 0 {
		fields = []string{WholeRecord}
	}

	state.Conflict = &ConflictRecord{
		Local:      local,
		Remote:     remote,
		Fields:     fields,
		DetectedAt: detectedAt,
		Strategy:   StrategyManual,
	}

	patch := element.Patch{Metadata: state.Metadata()}
	if !e.HasTag(ConflictTag) {
		patch.Tags = append(slices.Clone(e.Tags), ConflictTag)
	}
	return patch, nil
}

// ResolveManualConflict returns the kept side's stored values for the disputed
// fields and the patch that clears the conflict tag and snapshot. A whole-record
// conflict narrows to the fields whose stored values differ.
func ResolveManualConflict(e *element.Element, keep Winner) (map[string]any, element.Patch, error) {
	if keep != WinnerLocal && keep != WinnerRemote {
		return nil, element.Patch{}, fmt.Errorf("keep must be %q or %q, got %q", WinnerLocal, WinnerRemote, keep)
	}

	state, err := ReadSyncState(e)
	if err != nil {
		return nil, element.Patch{}, err
	}
	if state == nil {
		return nil, element.Patch{}, ErrNotLinked
	}
	if state.Conflict == nil {
		return nil, element.Patch{}, ErrNoConflict
	}

	local, err := coerceFieldValues(state.Conflict.Local)
	if err != nil {
		return nil, element.Patch{}, fmt.Errorf("reading stored local values: %w", err)
	}
	remote, err := coerceFieldValues(state.Conflict.Remote)
	if err != nil {
		return nil, element.Patch{}, fmt.Errorf("reading stored remote values: %w", err)
	}
	stored := local
	if keep == WinnerRemote {
		stored = remote
	}

	values := make(map[string]any)
	for _, f := range disputedFields(state.Conflict.Fields, local, remote) {
		if v, ok := stored[f]; ok {
			values[f] = v
		}
	}

	state.Conflict = nil
	tags := slices.DeleteFunc(slices.Clone(e.Tags), func(t string) bool { return t == ConflictTag })
	if tags == nil {
		tags = []string{}
	}

	return values, element.Patch{Tags: tags, Metadata: state.Metadata()}, nil
}

// disputedFields expands WholeRecord to the mapped fields whose stored values
// differ or are only known on one side
func disputedFields(fields []string, local, remote map[string]any) []string {
	if !slices.Contains(fields, WholeRecord) {
		return slices.Clone(fields)
	}

	var out []string
	for _, f := range MappedFields {
		lv, inLocal := local[f]
		rv, inRemote := remote[f]
		if !inLocal && !inRemote {
			continue
		}
		if inLocal && inRemote && valuesEqual(f, lv, rv) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func valuesEqual(field string, a, b any) bool {
	var sa, sb FieldSnapshot
	if sa.Set(field, a) != nil || sb.Set(field, b) != nil {
		return false
	}
	return fieldEqual(field, sa, sb)
}

// snapshotOf builds a snapshot from stored field values; absent fields stay zero
func snapshotOf(values map[string]any) (FieldSnapshot, error) {
	var s FieldSnapshot
	for f, v := range values {
		if err := s.Set(f, v); err != nil {
			return FieldSnapshot{}, err
		}
	}
	s.Tags = nonNil(s.Tags)
	s.Assignees = nonNil(s.Assignees)
	return s, nil
}

// coerceFieldValues restores field types lost in the metadata JSON round trip
func coerceFieldValues(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for field, v := range raw {
		switch field {
		case FieldTitle, FieldBody, FieldTaskType:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field %s: expected string, got %T", field, v)
			}
			out[field] = s
		case FieldStatus:
			switch s := v.(type) {
			case string:
				out[field] = element.Status(s)
			case element.Status:
				out[field] = s
			default:
				return nil, fmt.Errorf("field %s: expected string, got %T", field, v)
			}
		case FieldPriority:
			switch n := v.(type) {
			case int:
				out[field] = n
			case float64:
				if n != math.Trunc(n) {
					return nil, fmt.Errorf("field %s: %v is not a whole number", field, n)
				}
				out[field] = int(n)
			default:
				return nil, fmt.Errorf("field %s: expected number, got %T", field, v)
			}
		case FieldTags, FieldAssignees:
			list, err := toStrings(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			out[field] = list
		default:
			return nil, fmt.Errorf("unknown field %q", field)
		}
	}
	return out, nil
}

func toStrings(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return slices.Clone(list), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list, got %T", v)
}
