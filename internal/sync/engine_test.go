package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/tether/internal/element"
	"github.com/tildaslashalef/tether/internal/loggy"
)

type engineFixture struct {
	clock   *testClock
	repo    *memRepository
	adapter *fakeAdapter
	cursors *memCursors
	logs    *memLogs
	engine  *Engine
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	clock := newTestClock()
	f := &engineFixture{
		clock:   clock,
		repo:    newMemRepository(clock.Now),
		adapter: newFakeAdapter("github", testFieldMap(), clock.Now),
		cursors: newMemCursors(),
		logs:    &memLogs{},
	}
	base := []EngineOption{
		WithCursorStore(f.cursors),
		WithLogRepository(f.logs),
		WithClock(clock.Now),
	}
	f.engine = NewEngine(f.repo, NewRegistry(f.adapter), loggy.NewNoopLogger(), append(base, opts...)...)
	return f
}

// addLinked stores an element with a pending link to acme/app
func (f *engineFixture) addLinked(t *testing.T, id string, mutate ...func(e *element.Element)) *element.Element {
	t.Helper()
	e := testElement()
	e.ID = id
	for _, m := range mutate {
		m(e)
	}
	state := &SyncState{Provider: "github", Project: "acme/app", Direction: DirectionBidirectional, AdapterType: e.Type}
	e.Metadata = state.Metadata()
	require.NoError(t, f.repo.Create(context.Background(), e))
	return e
}

// addSynced stores a linked element and pushes it once
func (f *engineFixture) addSynced(t *testing.T, id string, mutate ...func(e *element.Element)) string {
	t.Helper()
	f.addLinked(t, id, mutate...)
	res, err := f.engine.Push(context.Background(), PushOptions{IDs: []string{id}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	f.clock.Advance(time.Minute)
	return f.state(t, id).ExternalID
}

func (f *engineFixture) get(t *testing.T, id string) *element.Element {
	t.Helper()
	e, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (f *engineFixture) state(t *testing.T, id string) *SyncState {
	t.Helper()
	state, err := ReadSyncState(f.get(t, id))
	require.NoError(t, err)
	require.NotNil(t, state)
	return state
}

// editLocal changes an element the way a user would
func (f *engineFixture) editLocal(t *testing.T, id string, patch element.Patch) {
	t.Helper()
	_, err := f.repo.Update(context.Background(), id, patch)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
}

func (f *engineFixture) editRemote(externalID string, fn func(item *ExternalItem)) {
	f.adapter.edit(externalID, fn)
	f.clock.Advance(time.Minute)
}

func TestEngine_PushCreatesAndIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	f.addLinked(t, "el-1")
	ctx := context.Background()

	res, err := f.engine.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Failed)

	state := f.state(t, "el-1")
	require.True(t, state.IsCreated())
	item := f.adapter.item(state.ExternalID)
	assert.Equal(t, []string{"sf:priority:medium", "sf:type:bug", "sf:status:open", "backend", "urgent"}, item.Labels)
	assert.Equal(t, "https://tracker.example/acme/app/"+state.ExternalID, state.URL)
	assert.Equal(t, HashLocal(f.get(t, "el-1")), state.LastPushedHash)
	assert.Equal(t, HashRemote(item), state.LastPulledHash)

	res, err = f.engine.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pushed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, ActionUnchanged, res.Outcomes[0].Action)
	assert.Equal(t, 1, f.adapter.writes())
}

func TestEngine_PushForceBypassesHash(t *testing.T) {
	f := newEngineFixture(t)
	f.addSynced(t, "el-1")

	res, err := f.engine.Push(context.Background(), PushOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, f.adapter.updates)
}

func TestEngine_PushLocalChange(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")
	f.editLocal(t, "el-1", element.Patch{Priority: element.Ptr(element.PriorityCritical)})

	res, err := f.engine.Push(context.Background(), PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Contains(t, f.adapter.item(externalID).Labels, "sf:priority:critical")
}

func TestEngine_SyncNoChangesWritesNothing(t *testing.T) {
	f := newEngineFixture(t)
	f.addSynced(t, "el-1")
	f.addSynced(t, "el-2")
	updatesBefore := f.repo.updates
	writesBefore := f.adapter.writes()

	res, err := f.engine.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pushed)
	assert.Equal(t, 0, res.Pulled)
	assert.Equal(t, 0, res.Conflicts)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, updatesBefore, f.repo.updates)
	assert.Equal(t, writesBefore, f.adapter.writes())
}

func TestEngine_SyncFieldMergeScenario(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")

	f.editLocal(t, "el-1", element.Patch{Priority: element.Ptr(element.PriorityCritical)})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "Fix login bug" })

	res, err := f.engine.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Empty(t, res.ManualConflicts)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, ActionResolved, res.Outcomes[0].Action)
	assert.Equal(t, WinnerMerged, res.Outcomes[0].Winner)

	assert.Contains(t, f.adapter.item(externalID).Labels, "sf:priority:critical")
	assert.Equal(t, "Fix login bug", f.get(t, "el-1").Title)
	assert.Equal(t, element.PriorityCritical, f.get(t, "el-1").Priority)

	// the merge is the new sync point: nothing bounces back
	res, err = f.engine.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, ActionUnchanged, res.Outcomes[0].Action)
}

func TestEngine_SyncStatusConflictLastWriteWins(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")

	f.editLocal(t, "el-1", element.Patch{Status: element.Ptr(element.StatusClosed)})
	f.editRemote(externalID, func(item *ExternalItem) {
		item.Labels = []string{"sf:priority:medium", "sf:type:bug", "sf:status:in-progress", "backend", "urgent"}
	})

	res, err := f.engine.Sync(context.Background(), SyncOptions{Strategy: StrategyLastWriteWins})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, WinnerRemote, res.Outcomes[0].Winner)
	assert.Equal(t, []string{FieldStatus}, res.Outcomes[0].Fields)
	assert.Equal(t, element.StatusInProgress, f.get(t, "el-1").Status)
	assert.Equal(t, StateOpen, f.adapter.item(externalID).State)
}

func TestEngine_SyncRemoteWinsWholeRecord(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")

	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })
	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local title")})

	res, err := f.engine.Sync(context.Background(), SyncOptions{Strategy: StrategyRemoteWins})
	require.NoError(t, err)
	assert.Equal(t, WinnerRemote, res.Outcomes[0].Winner)
	assert.Equal(t, "remote title", f.get(t, "el-1").Title)
	assert.Equal(t, "remote title", f.adapter.item(externalID).Title)
}

func TestEngine_ManualConflictLifecycle(t *testing.T) {
	f := newEngineFixture(t, WithDefaultStrategy(StrategyManual))
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	f.editLocal(t, "el-1", element.Patch{
		Title: element.Ptr("local title"),
		Body:  element.Ptr("local body"),
	})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })
	stateBefore := f.state(t, "el-1")

	res, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	require.Len(t, res.ManualConflicts, 1)
	assert.Equal(t, []string{FieldTitle}, res.ManualConflicts[0].ConflictingFields)

	e := f.get(t, "el-1")
	assert.True(t, e.HasTag(ConflictTag))
	assert.Equal(t, "local title", e.Title, "disputed field is untouched")
	assert.Equal(t, "local body", f.adapter.item(externalID).Body, "one-sided change still merged")

	state := f.state(t, "el-1")
	require.NotNil(t, state.Conflict)
	assert.Equal(t, "local title", state.Conflict.Local[FieldTitle])
	assert.Equal(t, "remote title", state.Conflict.Remote[FieldTitle])
	assert.Equal(t, stateBefore.LastPushedHash, state.LastPushedHash, "hashes stay at the old sync point")
	assert.Equal(t, stateBefore.LastPulledHash, state.LastPulledHash)
	detectedAt := state.Conflict.DetectedAt

	// the conflict re-surfaces without rewriting the stored snapshot
	f.clock.Advance(time.Hour)
	res, err = f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Len(t, res.ManualConflicts, 1)
	assert.Equal(t, detectedAt, f.state(t, "el-1").Conflict.DetectedAt)

	// push and pull leave conflicted elements alone
	pushed, err := f.engine.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, "unresolved conflict", pushed.Outcomes[0].Reason)

	pending, err := f.engine.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "el-1", pending[0].Element.ID)

	outcome, err := f.engine.ResolveManual(ctx, "el-1", WinnerRemote)
	require.NoError(t, err)
	assert.Equal(t, ActionResolved, outcome.Action)

	e = f.get(t, "el-1")
	assert.False(t, e.HasTag(ConflictTag))
	assert.Equal(t, "remote title", e.Title)
	assert.Nil(t, f.state(t, "el-1").Conflict)

	pending, err = f.engine.Conflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	res, err = f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Outcomes[0].Action)
}

func TestEngine_ResolveManualKeepLocal(t *testing.T) {
	f := newEngineFixture(t, WithDefaultStrategy(StrategyManual))
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local title")})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })
	_, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	_, err = f.engine.ResolveManual(ctx, "el-1", WinnerLocal)
	require.NoError(t, err)
	assert.Equal(t, "local title", f.adapter.item(externalID).Title)
	assert.False(t, f.get(t, "el-1").HasTag(ConflictTag))

	_, err = f.engine.ResolveManual(ctx, "el-1", WinnerLocal)
	assert.ErrorIs(t, err, ErrNoConflict)
}

func TestEngine_ResolveManualKeepsEditsMadeWhileOpen(t *testing.T) {
	f := newEngineFixture(t, WithDefaultStrategy(StrategyManual))
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local title")})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })
	_, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.True(t, f.get(t, "el-1").HasTag(ConflictTag))

	f.editRemote(externalID, func(item *ExternalItem) { item.Body = "remote body" })
	f.editLocal(t, "el-1", element.Patch{Assignees: []string{"alice"}})

	outcome, err := f.engine.ResolveManual(ctx, "el-1", WinnerLocal)
	require.NoError(t, err)
	assert.Equal(t, []string{FieldTitle}, outcome.Fields)
	item := f.adapter.item(externalID)
	assert.Equal(t, "local title", item.Title)
	assert.Equal(t, "remote body", item.Body, "only the disputed field is written")
	assert.Equal(t, []string{"ana"}, item.Assignees)
	assert.Equal(t, []string{"alice"}, f.get(t, "el-1").Assignees)

	res, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, ActionResolved, res.Outcomes[0].Action)
	assert.Equal(t, WinnerMerged, res.Outcomes[0].Winner)
	assert.Empty(t, res.ManualConflicts)

	e := f.get(t, "el-1")
	assert.Equal(t, "local title", e.Title)
	assert.Equal(t, "remote body", e.Body)
	assert.Equal(t, []string{"alice"}, f.adapter.item(externalID).Assignees)

	res, err = f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Outcomes[0].Action)
}

func TestEngine_ResolveManualKeepRemoteKeepsLaterLocalEdit(t *testing.T) {
	f := newEngineFixture(t, WithDefaultStrategy(StrategyManual))
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local title")})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })
	_, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	f.editLocal(t, "el-1", element.Patch{Body: element.Ptr("local body")})

	_, err = f.engine.ResolveManual(ctx, "el-1", WinnerRemote)
	require.NoError(t, err)
	e := f.get(t, "el-1")
	assert.Equal(t, "remote title", e.Title)
	assert.Equal(t, "local body", e.Body)

	res, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPushed, res.Outcomes[0].Action)
	item := f.adapter.item(externalID)
	assert.Equal(t, "remote title", item.Title)
	assert.Equal(t, "local body", item.Body)

	res, err = f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Outcomes[0].Action)
}

func TestEngine_ResolveManualWholeRecordWritesOnlyDifferingFields(t *testing.T) {
	f := newEngineFixture(t, WithDefaultStrategy(StrategyManual))
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	// no baselines: detection falls back to the whole record
	el := f.get(t, "el-1")
	state := f.state(t, "el-1")
	state.LocalBaseline, state.RemoteBaseline = nil, nil
	_, err := f.repo.Update(ctx, el.ID, element.Patch{Metadata: state.Metadata()})
	require.NoError(t, err)

	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local title")})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })
	res, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, res.ManualConflicts, 1)
	require.Equal(t, []string{WholeRecord}, f.state(t, "el-1").Conflict.Fields)

	f.editRemote(externalID, func(item *ExternalItem) { item.Body = "remote body" })

	outcome, err := f.engine.ResolveManual(ctx, "el-1", WinnerLocal)
	require.NoError(t, err)
	assert.Equal(t, []string{FieldTitle}, outcome.Fields)
	assert.Equal(t, "local title", f.adapter.item(externalID).Title)
	assert.Equal(t, "remote body", f.adapter.item(externalID).Body)

	res, err = f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPulled, res.Outcomes[0].Action)
	assert.Equal(t, "remote body", f.get(t, "el-1").Body)
	assert.Equal(t, "local title", f.get(t, "el-1").Title)
}

func TestEngine_RecordingConflictKeepsLocalTimestamp(t *testing.T) {
	f := newEngineFixture(t, WithDefaultStrategy(StrategyManual))
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local title")})
	localEditedAt := f.get(t, "el-1").UpdatedAt
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })

	_, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	e := f.get(t, "el-1")
	require.True(t, e.HasTag(ConflictTag))
	assert.Equal(t, localEditedAt, e.UpdatedAt)

	f.clock.Advance(time.Minute)
	res, err := f.engine.Sync(ctx, SyncOptions{Strategy: StrategyLastWriteWins})
	require.NoError(t, err)
	assert.Equal(t, WinnerRemote, res.Outcomes[0].Winner)
	e = f.get(t, "el-1")
	assert.Equal(t, "remote title", e.Title)
	assert.False(t, e.HasTag(ConflictTag))
	assert.Equal(t, "remote title", f.adapter.item(externalID).Title)
}

func TestEngine_ManualConflictClearedByLaterStrategy(t *testing.T) {
	f := newEngineFixture(t, WithDefaultStrategy(StrategyManual))
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local title")})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })
	_, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.True(t, f.get(t, "el-1").HasTag(ConflictTag))

	res, err := f.engine.Sync(ctx, SyncOptions{Strategy: StrategyLocalWins})
	require.NoError(t, err)
	assert.Equal(t, ActionResolved, res.Outcomes[0].Action)
	assert.False(t, f.get(t, "el-1").HasTag(ConflictTag))
	assert.Nil(t, f.state(t, "el-1").Conflict)
	assert.Equal(t, "local title", f.adapter.item(externalID).Title)
}

func TestEngine_PushSimplifiedFallback(t *testing.T) {
	failing := func(context.Context, *element.Element) (string, error) {
		return "", errors.New("description file missing")
	}
	f := newEngineFixture(t, WithDescription(failing))
	f.addLinked(t, "el-1")

	res, err := f.engine.Push(context.Background(), PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Simplified)
	assert.True(t, res.Outcomes[0].Simplified)

	item := f.adapter.item(f.state(t, "el-1").ExternalID)
	assert.Equal(t, []string{"backend", "urgent"}, item.Labels)
	assert.Equal(t, "Login fails on Safari", item.Body)
}

func TestEngine_PushSimplifiedOnMappingError(t *testing.T) {
	f := newEngineFixture(t)
	f.adapter.cfg.DefaultTaskType = "epic"
	f.addLinked(t, "el-1", func(e *element.Element) { e.Category = "spike" })

	res, err := f.engine.Push(context.Background(), PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Simplified)
}

func TestFileDescription(t *testing.T) {
	e := testElement()
	body, err := FileDescription(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, e.Body, body)

	e.Metadata = map[string]any{DescriptionRefKey: t.TempDir() + "/missing.md"}
	_, err = FileDescription(context.Background(), e)
	assert.Error(t, err)
}

func TestEngine_TerminalElementPushesCloseOnceThenStops(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	// the close itself is pushed once
	f.editLocal(t, "el-1", element.Patch{Status: element.Ptr(element.StatusClosed)})
	res, err := f.engine.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, StateClosed, f.adapter.item(externalID).State)

	// later local edits on a finished element are not pushed
	f.editLocal(t, "el-1", element.Patch{Body: element.Ptr("post-mortem")})
	writes := f.adapter.writes()
	res, err = f.engine.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, "terminal", res.Outcomes[0].Reason)
	assert.Equal(t, writes, f.adapter.writes())

	// remote edits on a closed item are not pulled either
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "renamed while closed" })
	res, err = f.engine.Pull(ctx, PullOptions{})
	require.NoError(t, err)
	assert.Equal(t, "terminal", res.Outcomes[0].Reason)

	// reopening on the provider resumes syncing
	f.editRemote(externalID, func(item *ExternalItem) {
		item.State = StateOpen
		item.Labels = []string{"sf:priority:medium", "sf:type:bug", "sf:status:in-progress", "backend", "urgent"}
	})
	res, err = f.engine.Sync(ctx, SyncOptions{Strategy: StrategyRemoteWins})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	e := f.get(t, "el-1")
	assert.Equal(t, element.StatusInProgress, e.Status)
	assert.Equal(t, "renamed while closed", e.Title)
}

func TestEngine_PullAppliesRemoteChangesAndAdvancesCursor(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	f.editRemote(externalID, func(item *ExternalItem) {
		item.Title = "Fix login bug"
		item.Assignees = []string{"ana", "bo"}
	})
	remoteUpdatedAt := f.adapter.item(externalID).UpdatedAt

	res, err := f.engine.Pull(ctx, PullOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, []string{FieldAssignees, FieldTitle}, res.Outcomes[0].Fields)

	e := f.get(t, "el-1")
	assert.Equal(t, "Fix login bug", e.Title)
	assert.Equal(t, []string{"ana", "bo"}, e.Assignees)
	assert.Equal(t, element.PriorityMedium, e.Priority)

	cursor, err := f.cursors.GetCursor(ctx, "github", "acme/app")
	require.NoError(t, err)
	assert.Equal(t, remoteUpdatedAt, cursor)

	// pulled values are not pushed back
	pushed, err := f.engine.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, pushed.Pushed)

	res, err = f.engine.Pull(ctx, PullOptions{})
	require.NoError(t, err)
	assert.Equal(t, remoteUpdatedAt, f.adapter.lastSince)
	assert.Equal(t, 0, res.Pulled)
}

func TestEngine_PullFailureKeepsCursor(t *testing.T) {
	f := newEngineFixture(t)
	first := f.addSynced(t, "el-1")
	second := f.addSynced(t, "el-2")
	ctx := context.Background()

	f.editRemote(first, func(item *ExternalItem) { item.Title = "one" })
	f.editRemote(second, func(item *ExternalItem) { item.Title = "two" })
	f.repo.failOn["el-1"] = errors.New("disk full")

	res, err := f.engine.Pull(ctx, PullOptions{Project: "acme/app"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Pulled, "a failing element does not stop the batch")
	assert.Equal(t, 0, f.cursors.sets)
	assert.Equal(t, "two", f.get(t, "el-2").Title)
}

func TestEngine_PullWithLocalChangesReconciles(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")

	f.editLocal(t, "el-1", element.Patch{Body: element.Ptr("local body")})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "remote title" })

	res, err := f.engine.Pull(context.Background(), PullOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)

	e := f.get(t, "el-1")
	assert.Equal(t, "remote title", e.Title)
	assert.Equal(t, "local body", e.Body)
	assert.Equal(t, "local body", f.adapter.item(externalID).Body)
}

func TestEngine_PullCreateMissing(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.adapter.CreateItem(ctx, "acme/app", ExternalItemInput{
		Title:  "Imported",
		State:  StateOpen,
		Labels: []string{"sf:type:feature", "ui"},
	})
	require.NoError(t, err)
	_, err = f.adapter.CreateItem(ctx, "acme/app", ExternalItemInput{Title: "Done already", State: StateClosed})
	require.NoError(t, err)

	res, err := f.engine.Pull(ctx, PullOptions{Project: "acme/app", CreateMissing: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	linked, err := f.repo.List(ctx, element.Filter{Linked: element.Ptr(true)})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	e := linked[0]
	assert.Equal(t, "Imported", e.Title)
	assert.Equal(t, element.PriorityMedium, e.Priority, "default priority applies on create")
	assert.Equal(t, "feature", e.Category)
	assert.Equal(t, []string{"ui"}, e.Tags)

	res, err = f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionUnchanged, res.Outcomes[0].Action)
}

func TestEngine_DryRunWritesNothing(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")
	f.addLinked(t, "el-2")
	ctx := context.Background()

	f.editLocal(t, "el-1", element.Patch{Priority: element.Ptr(element.PriorityCritical)})
	f.editRemote(externalID, func(item *ExternalItem) { item.Title = "Fix login bug" })

	updates := f.repo.updates
	writes := f.adapter.writes()
	logCount := f.logs.count()

	for _, run := range []func() (*Result, error){
		func() (*Result, error) { return f.engine.Sync(ctx, SyncOptions{DryRun: true}) },
		func() (*Result, error) { return f.engine.Push(ctx, PushOptions{DryRun: true}) },
		func() (*Result, error) { return f.engine.Pull(ctx, PullOptions{DryRun: true, CreateMissing: true}) },
	} {
		res, err := run()
		require.NoError(t, err)
		assert.True(t, res.DryRun)
		assert.Zero(t, res.Failed)
	}

	assert.Equal(t, updates, f.repo.updates)
	assert.Equal(t, writes, f.adapter.writes())
	assert.Equal(t, logCount, f.logs.count())
	assert.Equal(t, 0, f.cursors.sets)
}

func TestEngine_AdapterFailureContinues(t *testing.T) {
	f := newEngineFixture(t)
	broken := f.addSynced(t, "el-1")
	healthy := f.addSynced(t, "el-2")
	ctx := context.Background()

	f.editLocal(t, "el-2", element.Patch{Title: element.Ptr("changed")})
	f.adapter.getErr[broken] = &AdapterError{Provider: "github", StatusCode: 503, Message: "Service Unavailable"}

	res, err := f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Pushed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "el-1", res.Errors[0].ElementID)
	assert.Equal(t, SyncErrorTypeServer, res.Errors[0].Type)
	assert.Equal(t, "changed", f.adapter.item(healthy).Title)

	latest, err := f.logs.GetLatestSyncLog(ctx, "el-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.Success)
	assert.Equal(t, SyncErrorTypeServer, latest.ErrorType)
}

func TestEngine_SyncMissingItemFails(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")
	delete(f.adapter.items, externalID)

	res, err := f.engine.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Errors[0], ErrItemNotFound)
}

func TestEngine_RunsThatCannotStart(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Push(ctx, PushOptions{Provider: "jira"})
	assert.ErrorIs(t, err, ErrAdapterNotFound)

	_, err = f.engine.Pull(ctx, PullOptions{Provider: "jira"})
	assert.ErrorIs(t, err, ErrAdapterNotFound)

	_, err = f.engine.Sync(ctx, SyncOptions{Strategy: "coin_flip"})
	assert.Error(t, err)

	_, err = f.engine.Push(ctx, PushOptions{CreateUnlinked: true})
	assert.Error(t, err)

	f.adapter.listErr = errors.New("listing failed")
	_, err = f.engine.Pull(ctx, PullOptions{Project: "acme/app"})
	assert.Error(t, err)
}

func TestEngine_MissingAdapterForElementFails(t *testing.T) {
	f := newEngineFixture(t)
	e := testElement()
	e.Metadata = (&SyncState{Provider: "jira", Project: "OPS", ExternalID: "OPS-1"}).Metadata()
	require.NoError(t, f.repo.Create(context.Background(), e))

	res, err := f.engine.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Errors[0], ErrAdapterNotFound)
}

func TestEngine_Cancellation(t *testing.T) {
	f := newEngineFixture(t)
	f.addLinked(t, "el-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine.Push(ctx, PushOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, 0, f.adapter.writes())
}

func TestEngine_Directions(t *testing.T) {
	f := newEngineFixture(t)
	externalID := f.addSynced(t, "el-1")
	ctx := context.Background()

	e := f.get(t, "el-1")
	state := f.state(t, "el-1")
	state.Direction = DirectionPull
	_, err := f.repo.Update(ctx, e.ID, element.Patch{Metadata: state.Metadata()})
	require.NoError(t, err)

	f.editLocal(t, "el-1", element.Patch{Title: element.Ptr("local only")})
	res, err := f.engine.Push(ctx, PushOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Outcomes[0].Action)

	f.editRemote(externalID, func(item *ExternalItem) { item.Body = "remote body" })
	res, err = f.engine.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionPulled, res.Outcomes[0].Action)
	assert.Equal(t, "remote body", f.get(t, "el-1").Body)
	assert.NotEqual(t, "local only", f.adapter.item(externalID).Title)
}

func TestEngine_PushCreateUnlinked(t *testing.T) {
	f := newEngineFixture(t)
	e := testElement()
	require.NoError(t, f.repo.Create(context.Background(), e))

	res, err := f.engine.Push(context.Background(), PushOptions{
		Provider:       "github",
		Project:        "acme/app",
		CreateUnlinked: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	state := f.state(t, e.ID)
	assert.Equal(t, "acme/app", state.Project)
	assert.True(t, state.IsCreated())
}

func TestEngine_LinkAndUnlink(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	e := testElement()
	require.NoError(t, f.repo.Create(ctx, e))
	item, err := f.adapter.CreateItem(ctx, "acme/app", ExternalItemInput{Title: "Existing", State: StateOpen})
	require.NoError(t, err)

	_, err = f.engine.Link(ctx, e.ID, LinkOptions{Provider: "github", Project: "acme/app", ExternalID: "999"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	linked, err := f.engine.Link(ctx, e.ID, LinkOptions{Provider: "github", Project: "acme/app", ExternalID: item.ExternalID})
	require.NoError(t, err)
	state, err := ReadSyncState(linked)
	require.NoError(t, err)
	assert.Equal(t, item.ExternalID, state.ExternalID)
	assert.Equal(t, item.URL, state.URL)
	assert.Equal(t, DirectionBidirectional, state.Direction)

	_, err = f.engine.Link(ctx, e.ID, LinkOptions{Provider: "github", Project: "acme/app"})
	assert.ErrorIs(t, err, ErrAlreadyLinked)

	unlinked, err := f.engine.Unlink(ctx, e.ID)
	require.NoError(t, err)
	state, err = ReadSyncState(unlinked)
	require.NoError(t, err)
	assert.Nil(t, state)

	_, err = f.engine.Unlink(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotLinked)

	_, err = f.engine.Link(ctx, e.ID, LinkOptions{Provider: "jira", Project: "OPS"})
	assert.ErrorIs(t, err, ErrAdapterNotFound)
}
