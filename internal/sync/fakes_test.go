package sync

import (
	"context"
	"fmt"
	"slices"
	"sort"
	gosync "sync"
	"time"

	"github.com/tildaslashalef/tether/internal/element"
)

// testClock is a manually advanced clock shared by engine, store and adapter
type testClock struct {
	mu gosync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testFieldMap is a fully populated config with the "sf:" prefix
func testFieldMap() *FieldMapConfig {
	cfg := &FieldMapConfig{
		PriorityLabels: map[int]string{1: "critical", 2: "high", 3: "medium", 4: "low", 5: "minimal"},
		TaskTypeLabels: map[string]string{"bug": "bug", "feature": "feature", "task": "task", "chore": "chore"},
		StatusLabels: map[element.Status]string{
			element.StatusOpen:       "open",
			element.StatusInProgress: "in-progress",
			element.StatusBlocked:    "blocked",
			element.StatusDeferred:   "deferred",
			element.StatusReview:     "review",
			element.StatusClosed:     "closed",
			element.StatusTombstone:  "tombstone",
		},
		SyncLabelPrefix: "sf:",
		DefaultPriority: element.PriorityMedium,
		DefaultTaskType: element.CategoryTask,
		StatusToState: func(s element.Status) ExternalState {
			if s.IsTerminal() {
				return StateClosed
			}
			return StateOpen
		},
	}
	cfg.StateToStatus = func(state ExternalState, labels []string) element.Status {
		parsed := ParseExternalLabels(labels, cfg)
		if state == StateClosed {
			if parsed.Status != nil && parsed.Status.IsTerminal() {
				return *parsed.Status
			}
			return element.StatusClosed
		}
		if parsed.Status != nil && !parsed.Status.IsTerminal() {
			return *parsed.Status
		}
		return element.StatusOpen
	}
	return cfg
}

// memRepository is an in-memory element.Repository
type memRepository struct {
	mu       gosync.Mutex
	items    map[string]*element.Element
	now      func() time.Time
	updates  int
	failOn   map[string]error
	creates  int
	listErrs error
}

func newMemRepository(now func() time.Time) *memRepository {
	return &memRepository{
		items:  make(map[string]*element.Element),
		now:    now,
		failOn: make(map[string]error),
	}
}

func (r *memRepository) Create(_ context.Context, e *element.Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[e.ID]; ok {
		return fmt.Errorf("duplicate id %s", e.ID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = r.now()
	}
	r.items[e.ID] = roundTrip(e)
	r.creates++
	return nil
}

func (r *memRepository) Get(_ context.Context, id string) (*element.Element, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return nil, element.ErrElementNotFound
	}
	return e.Clone(), nil
}

func (r *memRepository) Update(_ context.Context, id string, patch element.Patch) (*element.Element, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[id]; err != nil {
		return nil, err
	}
	e, ok := r.items[id]
	if !ok {
		return nil, element.ErrElementNotFound
	}
	before := e.Clone()
	patch.Apply(e)
	if patch.TouchesContent() && element.ContentChanged(before, e) {
		e.UpdatedAt = r.now()
	}
	r.items[id] = roundTrip(e)
	r.updates++
	return r.items[id].Clone(), nil
}

func (r *memRepository) List(_ context.Context, f element.Filter) ([]*element.Element, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErrs != nil {
		return nil, r.listErrs
	}

	var out []*element.Element
	for _, e := range r.items {
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, e.ID) {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if len(f.Statuses) > 0 {
			if !slices.Contains(f.Statuses, e.Status) {
				continue
			}
		} else if !f.IncludeTerminal && e.Status.IsTerminal() {
			continue
		}
		if f.Tag != "" && !e.HasTag(f.Tag) {
			continue
		}
		raw, linked := e.Metadata[element.ExternalSyncKey].(map[string]any)
		if f.Linked != nil && *f.Linked != linked {
			continue
		}
		if f.Provider != "" && (!linked || raw["provider"] != f.Provider) {
			continue
		}
		if f.Project != "" && (!linked || raw["project"] != f.Project) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return element.ErrElementNotFound
	}
	delete(r.items, id)
	return nil
}

// roundTrip stores metadata the way the database returns it
func roundTrip(e *element.Element) *element.Element {
	return e.Clone()
}

// fakeAdapter is an in-memory provider
type fakeAdapter struct {
	mu       gosync.Mutex
	provider string
	cfg      *FieldMapConfig
	now      func() time.Time
	items    map[string]*ExternalItem
	nextID   int

	creates int
	updates int
	gets    int
	lists   int

	getErr    map[string]error
	updateErr error
	listErr   error
	lastSince time.Time
}

func newFakeAdapter(provider string, cfg *FieldMapConfig, now func() time.Time) *fakeAdapter {
	return &fakeAdapter{
		provider: provider,
		cfg:      cfg,
		now:      now,
		items:    make(map[string]*ExternalItem),
		nextID:   100,
		getErr:   make(map[string]error),
	}
}

func (a *fakeAdapter) Provider() string { return a.provider }

func (a *fakeAdapter) FieldMapConfig() *FieldMapConfig { return a.cfg }

func (a *fakeAdapter) GetItem(_ context.Context, project, externalID string) (*ExternalItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gets++
	if err := a.getErr[externalID]; err != nil {
		return nil, err
	}
	item, ok := a.items[externalID]
	if !ok || item.Project != project {
		return nil, ErrItemNotFound
	}
	return copyItem(item), nil
}

func (a *fakeAdapter) ListItemsSince(_ context.Context, project string, since time.Time) ([]*ExternalItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lists++
	a.lastSince = since
	if a.listErr != nil {
		return nil, a.listErr
	}
	var out []*ExternalItem
	for _, item := range a.items {
		if item.Project == project && !item.UpdatedAt.Before(since) {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (a *fakeAdapter) CreateItem(_ context.Context, project string, input ExternalItemInput) (*ExternalItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	a.nextID++
	id := fmt.Sprintf("%d", a.nextID)
	item := &ExternalItem{
		ExternalID: id,
		URL:        "https://tracker.example/" + project + "/" + id,
		Provider:   a.provider,
		Project:    project,
		Title:      input.Title,
		Body:       input.Body,
		State:      input.State,
		Labels:     slices.Clone(input.Labels),
		Assignees:  nonNil(input.Assignees),
		UpdatedAt:  a.now(),
	}
	a.items[id] = item
	return copyItem(item), nil
}

func (a *fakeAdapter) UpdateItem(_ context.Context, project, externalID string, patch ExternalItemPatch) (*ExternalItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates++
	if a.updateErr != nil {
		return nil, a.updateErr
	}
	item, ok := a.items[externalID]
	if !ok || item.Project != project {
		return nil, ErrItemNotFound
	}
	applyItemPatch(item, patch)
	item.UpdatedAt = a.now()
	return copyItem(item), nil
}

// edit simulates a change made directly on the provider
func (a *fakeAdapter) edit(externalID string, fn func(item *ExternalItem)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	item := a.items[externalID]
	fn(item)
	item.UpdatedAt = a.now()
}

func (a *fakeAdapter) item(externalID string) *ExternalItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyItem(a.items[externalID])
}

func (a *fakeAdapter) writes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates + a.updates
}

func applyItemPatch(item *ExternalItem, p ExternalItemPatch) {
	if p.Title != nil {
		item.Title = *p.Title
	}
	if p.Body != nil {
		item.Body = *p.Body
	}
	if p.State != nil {
		item.State = *p.State
	}
	if p.Labels != nil {
		item.Labels = slices.Clone(p.Labels)
	}
	if p.Assignees != nil {
		item.Assignees = slices.Clone(p.Assignees)
	}
}

func copyItem(item *ExternalItem) *ExternalItem {
	if item == nil {
		return nil
	}
	c := *item
	c.Labels = slices.Clone(item.Labels)
	c.Assignees = slices.Clone(item.Assignees)
	return &c
}

// memCursors is an in-memory CursorStore
type memCursors struct {
	mu      gosync.Mutex
	cursors map[string]time.Time
	sets    int
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: make(map[string]time.Time)}
}

func (c *memCursors) GetCursor(_ context.Context, provider, project string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[provider+"/"+project], nil
}

func (c *memCursors) SetCursor(_ context.Context, provider, project string, cursor time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[provider+"/"+project] = cursor
	c.sets++
	return nil
}

// memLogs is an in-memory LogRepository
type memLogs struct {
	mu   gosync.Mutex
	logs []*SyncLog
}

func (l *memLogs) CreateSyncLog(_ context.Context, log *SyncLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, log)
	return nil
}

func (l *memLogs) GetSyncLogs(_ context.Context, _ LogFilter) ([]*SyncLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.logs), nil
}

func (l *memLogs) GetLatestSyncLog(_ context.Context, elementID string) (*SyncLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.logs) - 1; i >= 0; i-- {
		if l.logs[i].ElementID == elementID {
			return l.logs[i], nil
		}
	}
	return nil, nil
}

func (l *memLogs) GetFailedElements(_ context.Context, _ string, _ int) ([]string, error) {
	return nil, nil
}

func (l *memLogs) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}
