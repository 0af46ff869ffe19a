package sync

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tildaslashalef/tether/internal/element"
)

// Label kinds following the sync prefix
const (
	labelKindPriority = "priority:"
	labelKindType     = "type:"
	labelKindStatus   = "status:"
)

// Mapped field names, shared by snapshots, conflict info and update maps
const (
	FieldTitle     = "title"
	FieldBody      = "body"
	FieldStatus    = "status"
	FieldPriority  = "priority"
	FieldTaskType  = "taskType"
	FieldTags      = "tags"
	FieldAssignees = "assignees"

	// WholeRecord stands for every field when no per-field diff is possible
	WholeRecord = "*"
)

// MappedFields lists the fields compared and merged individually
var MappedFields = []string{FieldTitle, FieldBody, FieldStatus, FieldPriority, FieldTaskType, FieldTags, FieldAssignees}

// FieldMapConfig is one provider's label vocabulary. It is built once per
// provider and must not be mutated afterwards.
type FieldMapConfig struct {
	PriorityLabels map[int]string
	TaskTypeLabels map[string]string
	// StatusLabels is nil for providers with a native workflow status
	StatusLabels map[element.Status]string
	// SyncLabelPrefix namespaces the labels tether owns. Every provider label
	// carrying it is treated as tether's, so a user tag that starts with the
	// prefix is pushed but dropped again on the way back.
	SyncLabelPrefix string
	StatusToState   func(element.Status) ExternalState
	StateToStatus   func(state ExternalState, labels []string) element.Status
	DefaultPriority int
	DefaultTaskType string
}

// Validate reports configuration that cannot map or round-trip
func (c *FieldMapConfig) Validate() error {
	if c == nil {
		return errors.New("field map config is nil")
	}
	if c.StatusToState == nil {
		return errors.New("field map config: StatusToState is required")
	}
	if c.StateToStatus == nil {
		return errors.New("field map config: StateToStatus is required")
	}
	if strings.ContainsAny(c.SyncLabelPrefix, " ,") {
		return fmt.Errorf("field map config: prefix %q contains spaces or commas", c.SyncLabelPrefix)
	}
	if err := checkUniqueLabels("priority", c.PriorityLabels); err != nil {
		return err
	}
	if err := checkUniqueLabels("task type", c.TaskTypeLabels); err != nil {
		return err
	}
	return checkUniqueLabels("status", c.StatusLabels)
}

func checkUniqueLabels[K comparable](kind string, m map[K]string) error {
	seen := make(map[string]bool, len(m))
	for _, name := range m {
		if name == "" {
			return fmt.Errorf("field map config: empty %s label", kind)
		}
		if seen[name] {
			return fmt.Errorf("field map config: duplicate %s label %q", kind, name)
		}
		seen[name] = true
	}
	return nil
}

// PriorityLabel returns the full label for a priority
func (c *FieldMapConfig) PriorityLabel(name string) string {
	return c.SyncLabelPrefix + labelKindPriority + name
}

// TypeLabel returns the full label for a task type
func (c *FieldMapConfig) TypeLabel(name string) string {
	return c.SyncLabelPrefix + labelKindType + name
}

// StatusLabel returns the full label for a status
func (c *FieldMapConfig) StatusLabel(name string) string {
	return c.SyncLabelPrefix + labelKindStatus + name
}

// IsSyncLabel reports whether label belongs to tether's own vocabulary
func (c *FieldMapConfig) IsSyncLabel(label string) bool {
	if c.SyncLabelPrefix != "" {
		return strings.HasPrefix(label, c.SyncLabelPrefix)
	}
	_, _, ok := c.splitSyncLabel(label)
	return ok
}

func (c *FieldMapConfig) splitSyncLabel(label string) (kind, value string, ok bool) {
	rest, found := strings.CutPrefix(label, c.SyncLabelPrefix)
	if !found {
		return "", "", false
	}
	kinds := []string{labelKindPriority, labelKindType}
	if c.StatusLabels != nil {
		kinds = append(kinds, labelKindStatus)
	}
	for _, k := range kinds {
		if v, found := strings.CutPrefix(rest, k); found {
			return k, v, true
		}
	}
	return "", "", false
}

func (c *FieldMapConfig) priorityName(priority int) (string, bool) {
	if name, ok := c.PriorityLabels[priority]; ok {
		return name, true
	}
	name, ok := c.PriorityLabels[c.DefaultPriority]
	return name, ok
}

func (c *FieldMapConfig) taskTypeName(taskType string) (string, bool) {
	if name, ok := c.TaskTypeLabels[taskType]; ok {
		return name, true
	}
	name, ok := c.TaskTypeLabels[c.DefaultTaskType]
	return name, ok
}

// ParsedLabels holds what a provider's label set says about an element
type ParsedLabels struct {
	Priority *int
	TaskType *string
	Status   *element.Status
	UserTags []string
}

// PriorityOr returns the parsed priority or def
func (p ParsedLabels) PriorityOr(def int) int {
	if p.Priority != nil {
		return *p.Priority
	}
	return def
}

// TaskTypeOr returns the parsed task type or def
func (p ParsedLabels) TaskTypeOr(def string) string {
	if p.TaskType != nil {
		return *p.TaskType
	}
	return def
}

// BuildExternalLabels encodes priority, task type, optional status and user
// tags as labels, in that order. Unmapped priorities and task types fall back
// to the configured defaults.
func BuildExternalLabels(e *element.Element, cfg *FieldMapConfig) []string {
	labels := make([]string, 0, len(e.Tags)+3)
	if name, ok := cfg.priorityName(e.Priority); ok {
		labels = append(labels, cfg.PriorityLabel(name))
	}
	if name, ok := cfg.taskTypeName(e.Category); ok {
		labels = append(labels, cfg.TypeLabel(name))
	}
	if cfg.StatusLabels != nil {
		if name, ok := cfg.StatusLabels[e.Status]; ok {
			labels = append(labels, cfg.StatusLabel(name))
		}
	}
	return append(labels, userTags(e.Tags)...)
}

// ParseExternalLabels decodes a provider label set. Prefixed labels with
// unknown values are dropped; everything else is a user tag in input order.
func ParseExternalLabels(labels []string, cfg *FieldMapConfig) ParsedLabels {
	priorities := invert(cfg.PriorityLabels)
	taskTypes := invert(cfg.TaskTypeLabels)
	statuses := invert(cfg.StatusLabels)

	parsed := ParsedLabels{UserTags: []string{}}
	for _, label := range labels {
		kind, value, ok := cfg.splitSyncLabel(label)
		if !ok {
			if cfg.SyncLabelPrefix != "" && strings.HasPrefix(label, cfg.SyncLabelPrefix) {
				continue
			}
			if label != ConflictTag {
				parsed.UserTags = append(parsed.UserTags, label)
			}
			continue
		}

		switch kind {
		case labelKindPriority:
			if p, known := priorities[value]; known && parsed.Priority == nil {
				parsed.Priority = &p
			}
		case labelKindType:
			if t, known := taskTypes[value]; known && parsed.TaskType == nil {
				parsed.TaskType = &t
			}
		case labelKindStatus:
			if s, known := statuses[value]; known && parsed.Status == nil {
				parsed.Status = &s
			}
		}
	}
	return parsed
}

func invert[K comparable](m map[K]string) map[string]K {
	out := make(map[string]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// userTags returns tags minus the reserved conflict tag
func userTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != ConflictTag {
			out = append(out, t)
		}
	}
	return out
}

// MappingError reports a field with neither a mapped value nor a mapped default
type MappingError struct {
	Field string
	Value any
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no label mapping for %s %v and no usable default", e.Field, e.Value)
}

// BuildExternalInput maps an element to a full provider representation
func BuildExternalInput(e *element.Element, description string, cfg *FieldMapConfig) (ExternalItemInput, error) {
	if _, ok := cfg.priorityName(e.Priority); !ok {
		return ExternalItemInput{}, &MappingError{Field: FieldPriority, Value: e.Priority}
	}
	if _, ok := cfg.taskTypeName(e.Category); !ok {
		return ExternalItemInput{}, &MappingError{Field: FieldTaskType, Value: e.Category}
	}

	return ExternalItemInput{
		Title:     e.Title,
		Body:      description,
		State:     cfg.StatusToState(e.Status),
		Labels:    BuildExternalLabels(e, cfg),
		Assignees: slices.Clone(e.Assignees),
	}, nil
}

// BuildSimplifiedInput is the fallback representation used when the full
// mapping fails: title, body, state and user tags only.
func BuildSimplifiedInput(e *element.Element, description string, cfg *FieldMapConfig) ExternalItemInput {
	return ExternalItemInput{
		Title:     e.Title,
		Body:      description,
		State:     cfg.StatusToState(e.Status),
		Labels:    userTags(e.Tags),
		Assignees: slices.Clone(e.Assignees),
	}
}

// FieldSnapshot is the value of every mapped field in local vocabulary.
// Remote snapshots use priority 0 and an empty task type when the item
// carries no such label.
type FieldSnapshot struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Status    element.Status `json:"status"`
	Priority  int            `json:"priority"`
	TaskType  string         `json:"taskType"`
	Tags      []string       `json:"tags"`
	Assignees []string       `json:"assignees"`
}

// LocalFields snapshots an element
func LocalFields(e *element.Element, _ *FieldMapConfig) FieldSnapshot {
	return FieldSnapshot{
		Title:     e.Title,
		Body:      e.Body,
		Status:    e.Status,
		Priority:  e.Priority,
		TaskType:  e.Category,
		Tags:      userTags(e.Tags),
		Assignees: nonNil(e.Assignees),
	}
}

// RemoteFields snapshots an external item in local vocabulary
func RemoteFields(item *ExternalItem, cfg *FieldMapConfig) FieldSnapshot {
	parsed := ParseExternalLabels(item.Labels, cfg)
	return FieldSnapshot{
		Title:     item.Title,
		Body:      item.Body,
		Status:    cfg.StateToStatus(item.State, item.Labels),
		Priority:  parsed.PriorityOr(0),
		TaskType:  parsed.TaskTypeOr(""),
		Tags:      parsed.UserTags,
		Assignees: nonNil(item.Assignees),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// Clone returns a deep copy
func (s FieldSnapshot) Clone() FieldSnapshot {
	s.Tags = slices.Clone(s.Tags)
	s.Assignees = slices.Clone(s.Assignees)
	return s
}

// Value returns one field's value
func (s FieldSnapshot) Value(field string) any {
	switch field {
	case FieldTitle:
		return s.Title
	case FieldBody:
		return s.Body
	case FieldStatus:
		return s.Status
	case FieldPriority:
		return s.Priority
	case FieldTaskType:
		return s.TaskType
	case FieldTags:
		return slices.Clone(s.Tags)
	case FieldAssignees:
		return slices.Clone(s.Assignees)
	}
	return nil
}

// Values returns the named fields; WholeRecord expands to every mapped field
func (s FieldSnapshot) Values(fields []string) map[string]any {
	if slices.Contains(fields, WholeRecord) {
		fields = MappedFields
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = s.Value(f)
	}
	return out
}

// Set assigns one field from an update value
func (s *FieldSnapshot) Set(field string, v any) error {
	switch field {
	case FieldTitle:
		return assign(&s.Title, field, v)
	case FieldBody:
		return assign(&s.Body, field, v)
	case FieldStatus:
		return assign(&s.Status, field, v)
	case FieldPriority:
		return assign(&s.Priority, field, v)
	case FieldTaskType:
		return assign(&s.TaskType, field, v)
	case FieldTags:
		return assign(&s.Tags, field, v)
	case FieldAssignees:
		return assign(&s.Assignees, field, v)
	}
	return fmt.Errorf("unknown field %q", field)
}

func assign[T any](dst *T, field string, v any) error {
	typed, ok := v.(T)
	if !ok {
		return fmt.Errorf("field %s: unexpected value type %T", field, v)
	}
	*dst = typed
	return nil
}

// fieldEqual compares one field; tags and assignees compare as sets
func fieldEqual(field string, a, b FieldSnapshot) bool {
	switch field {
	case FieldTags:
		return sameSet(a.Tags, b.Tags)
	case FieldAssignees:
		return sameSet(a.Assignees, b.Assignees)
	}
	return a.Value(field) == b.Value(field)
}

func sameSet(a, b []string) bool {
	return slices.Equal(sortedSet(a), sortedSet(b))
}

func sortedSet(s []string) []string {
	out := slices.Clone(s)
	sort.Strings(out)
	return slices.Compact(out)
}

// LocalPatch converts local updates into an element patch. A zero priority or
// empty task type (absent on the remote side) is not applied.
func LocalPatch(updates map[string]any, current *element.Element) element.Patch {
	var p element.Patch
	if v, ok := updates[FieldTitle].(string); ok {
		p.Title = &v
	}
	if v, ok := updates[FieldBody].(string); ok {
		p.Body = &v
	}
	if v, ok := updates[FieldStatus].(element.Status); ok && v != "" {
		p.Status = &v
	}
	if v, ok := updates[FieldPriority].(int); ok && v > 0 {
		p.Priority = &v
	}
	if v, ok := updates[FieldTaskType].(string); ok && v != "" {
		p.Category = &v
	}
	if v, ok := updates[FieldTags].([]string); ok {
		tags := slices.Clone(v)
		if current != nil && current.HasTag(ConflictTag) && !slices.Contains(tags, ConflictTag) {
			tags = append(tags, ConflictTag)
		}
		if tags == nil {
			tags = []string{}
		}
		p.Tags = tags
	}
	if v, ok := updates[FieldAssignees].([]string); ok {
		p.Assignees = nonNil(v)
	}
	return p
}

// RemotePatch converts remote updates into a provider patch against the
// item's current state. Label-backed fields are re-encoded as a whole label set.
func RemotePatch(updates map[string]any, current *ExternalItem, cfg *FieldMapConfig) (ExternalItemPatch, error) {
	var p ExternalItemPatch
	if len(updates) == 0 {
		return p, nil
	}

	target := RemoteFields(current, cfg)
	for field, v := range updates {
		if err := target.Set(field, v); err != nil {
			return p, err
		}
	}

	if _, ok := updates[FieldTitle]; ok {
		p.Title = &target.Title
	}
	if _, ok := updates[FieldBody]; ok {
		p.Body = &target.Body
	}
	if _, ok := updates[FieldStatus]; ok {
		state := cfg.StatusToState(target.Status)
		p.State = &state
	}
	if _, ok := updates[FieldAssignees]; ok {
		p.Assignees = nonNil(target.Assignees)
	}

	_, priority := updates[FieldPriority]
	_, taskType := updates[FieldTaskType]
	_, tags := updates[FieldTags]
	_, status := updates[FieldStatus]
	if priority || taskType || tags || (status && cfg.StatusLabels != nil) {
		p.Labels = snapshotLabels(target, cfg)
	}

	return p, nil
}

// snapshotLabels encodes a snapshot without default fallback, so a field that
// is absent on the provider stays absent
func snapshotLabels(s FieldSnapshot, cfg *FieldMapConfig) []string {
	labels := make([]string, 0, len(s.Tags)+3)
	if name, ok := cfg.PriorityLabels[s.Priority]; ok {
		labels = append(labels, cfg.PriorityLabel(name))
	}
	if name, ok := cfg.TaskTypeLabels[s.TaskType]; ok {
		labels = append(labels, cfg.TypeLabel(name))
	}
	if cfg.StatusLabels != nil {
		if name, ok := cfg.StatusLabels[s.Status]; ok {
			labels = append(labels, cfg.StatusLabel(name))
		}
	}
	return append(labels, userTags(s.Tags)...)
}
