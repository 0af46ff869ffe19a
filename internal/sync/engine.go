package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/tildaslashalef/tether/internal/element"
	"github.com/tildaslashalef/tether/internal/loggy"
	"github.com/tildaslashalef/tether/internal/ulid"
)

// DescriptionRefKey is the metadata key naming a file that holds an element's full description
const DescriptionRefKey = "descriptionRef"

// CursorStore persists pull cursors per provider and project
type CursorStore interface {
	GetCursor(ctx context.Context, provider, project string) (time.Time, error)
	SetCursor(ctx context.Context, provider, project string, cursor time.Time) error
}

// DescriptionFunc returns the body sent to a provider for an element
type DescriptionFunc func(ctx context.Context, e *element.Element) (string, error)

// FileDescription reads the file named by the element's descriptionRef
// metadata, falling back to the element body when there is none
func FileDescription(_ context.Context, e *element.Element) (string, error) {
	ref, _ := e.Metadata[DescriptionRefKey].(string)
	if ref == "" {
		return e.Body, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("reading description %s: %w", ref, err)
	}
	return string(data), nil
}

// Engine reconciles linked elements with their provider items. Elements are
// processed one at a time; callers must hold a lock per provider and project
// when invocations can overlap.
type Engine struct {
	elements    element.Repository
	adapters    *Registry
	cursors     CursorStore
	logs        LogRepository
	strategy    Strategy
	description DescriptionFunc
	logger      *loggy.Logger
	now         func() time.Time
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithCursorStore persists pull cursors
func WithCursorStore(store CursorStore) EngineOption {
	return func(e *Engine) { e.cursors = store }
}

// WithLogRepository records every element outcome
func WithLogRepository(logs LogRepository) EngineOption {
	return func(e *Engine) { e.logs = logs }
}

// WithDefaultStrategy sets the strategy used when a run names none
func WithDefaultStrategy(s Strategy) EngineOption {
	return func(e *Engine) { e.strategy = s }
}

// WithDescription replaces the description source used when pushing
func WithDescription(fn DescriptionFunc) EngineOption {
	return func(e *Engine) { e.description = fn }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a sync engine
func NewEngine(elements element.Repository, adapters *Registry, logger *loggy.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		elements:    elements,
		adapters:    adapters,
		strategy:    StrategyLastWriteWins,
		description: FileDescription,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PushOptions selects what Push sends
type PushOptions struct {
	Provider string
	Project  string
	IDs      []string
	// Force pushes even when the local hash is unchanged
	Force bool
	// CreateUnlinked creates and links provider items for unlinked elements.
	// Provider and Project are required.
	CreateUnlinked bool
	DryRun         bool
}

// PullOptions selects what Pull fetches
type PullOptions struct {
	Provider string
	// Project limits the pull; empty pulls every project with linked elements
	Project string
	IDs     []string
	// CreateMissing creates local elements for open items no element is linked to
	CreateMissing bool
	DryRun        bool
}

// SyncOptions selects what Sync reconciles
type SyncOptions struct {
	Provider string
	Project  string
	IDs      []string
	// Strategy overrides the engine default
	Strategy Strategy
	DryRun   bool
}

type run struct {
	id     string
	op     Operation
	dryRun bool
	logger *loggy.Logger
	result *Result
	start  time.Time
}

func (e *Engine) startRun(ctx context.Context, op Operation, dryRun bool) (context.Context, *run) {
	ctx, runID := loggy.WithRunID(ctx, "")
	r := &run{
		id:     runID,
		op:     op,
		dryRun: dryRun,
		logger: e.logger.With("run_id", runID, "operation", op),
		result: &Result{RunID: runID, Operation: op, DryRun: dryRun},
		start:  e.now(),
	}
	r.logger.Debug("Starting sync run", "dry_run", dryRun)
	return ctx, r
}

func (e *Engine) finishRun(r *run) *Result {
	r.result.Duration = e.now().Sub(r.start)
	r.logger.Info("Sync run finished", "summary", r.result.Summary(), "duration", r.result.Duration)
	return r.result
}

// record adds o to the run result and, outside dry runs, to the sync log
func (e *Engine) record(ctx context.Context, r *run, o Outcome, startedAt time.Time) {
	r.result.record(o)

	logger := r.logger.With("element_id", o.ElementID, "action", o.Action)
	if o.Err != nil {
		logger.Warn("Element sync failed", "external_id", o.ExternalID, "error", o.Err)
	} else {
		logger.Debug("Element processed", "external_id", o.ExternalID, "reason", o.Reason)
	}

	if r.dryRun || e.logs == nil {
		return
	}

	log := NewSyncLog(r.id, r.op, o.Provider, o.Project, o.ElementID, startedAt)
	log.ExternalID = o.ExternalID
	if o.Action == ActionFailed {
		log.MarkFailed(ClassifyError(o.Err), o.Err.Error(), e.now())
	} else {
		log.MarkSuccessful(o.Action, e.now())
	}
	if err := e.logs.CreateSyncLog(ctx, log); err != nil {
		logger.Warn("Failed to write sync log", "error", err)
	}
}

func outcomeFor(el *element.Element, state *SyncState) Outcome {
	o := Outcome{ElementID: el.ID}
	if state != nil {
		o.Provider = state.Provider
		o.Project = state.Project
		o.ExternalID = state.ExternalID
	}
	return o
}

func (o Outcome) as(action Action, reason string) Outcome {
	o.Action = action
	o.Reason = reason
	return o
}

func (o Outcome) failed(err error) Outcome {
	o.Action = ActionFailed
	o.Err = err
	o.Simplified = false
	return o
}

// Push sends local changes of linked elements to their providers
func (e *Engine) Push(ctx context.Context, opts PushOptions) (*Result, error) {
	if opts.Provider != "" {
		if _, err := e.adapters.Get(opts.Provider); err != nil {
			return nil, err
		}
	}
	if opts.CreateUnlinked && (opts.Provider == "" || opts.Project == "") {
		return nil, errors.New("creating items for unlinked elements needs a provider and project")
	}

	linked, err := e.elements.List(ctx, element.Filter{
		IDs:             opts.IDs,
		Linked:          element.Ptr(true),
		Provider:        opts.Provider,
		Project:         opts.Project,
		IncludeTerminal: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing linked elements: %w", err)
	}

	var unlinked []*element.Element
	if opts.CreateUnlinked {
		unlinked, err = e.elements.List(ctx, element.Filter{IDs: opts.IDs, Linked: element.Ptr(false)})
		if err != nil {
			return nil, fmt.Errorf("listing unlinked elements: %w", err)
		}
	}

	ctx, r := e.startRun(ctx, OperationPush, opts.DryRun)
	for _, el := range linked {
		if err := ctx.Err(); err != nil {
			return e.finishRun(r), err
		}
		started := e.now()
		e.record(ctx, r, e.pushElement(ctx, r, el, nil, opts.Force), started)
	}
	for _, el := range unlinked {
		if err := ctx.Err(); err != nil {
			return e.finishRun(r), err
		}
		state := &SyncState{
			Provider:    opts.Provider,
			Project:     opts.Project,
			Direction:   DirectionBidirectional,
			AdapterType: el.Type,
		}
		started := e.now()
		e.record(ctx, r, e.pushElement(ctx, r, el, state, opts.Force), started)
	}

	return e.finishRun(r), nil
}

func (e *Engine) pushElement(ctx context.Context, r *run, el *element.Element, state *SyncState, force bool) Outcome {
	if state == nil {
		var err error
		if state, err = ReadSyncState(el); err != nil {
			return outcomeFor(el, nil).failed(err)
		}
		if state == nil {
			return outcomeFor(el, nil).failed(ErrNotLinked)
		}
	}

	o := outcomeFor(el, state)
	adapter, err := e.adapters.Get(state.Provider)
	if err != nil {
		return o.failed(err)
	}

	switch {
	case !state.Direction.CanPush():
		return o.as(ActionSkipped, "direction is "+string(state.Direction))
	case state.Conflict != nil:
		return o.as(ActionSkipped, "unresolved conflict")
	case !state.IsCreated() && el.Status.IsTerminal():
		return o.as(ActionSkipped, "terminal")
	// A linked element that just turned terminal is pushed once so the close
	// reaches the provider; after that it is skipped.
	case terminalSettled(el, state, nil):
		return o.as(ActionSkipped, "terminal")
	case state.IsCreated() && !force && !HasLocalChanged(el, state):
		return o.as(ActionUnchanged, "")
	}

	return e.writeRemote(ctx, r, adapter, el, state, o)
}

// writeRemote creates or fully updates the provider item from the element
func (e *Engine) writeRemote(ctx context.Context, r *run, adapter Adapter, el *element.Element, state *SyncState, o Outcome) Outcome {
	cfg := adapter.FieldMapConfig()
	input, simplified := e.buildInput(ctx, r, el, cfg)
	o.Simplified = simplified

	action := ActionPushed
	if !state.IsCreated() {
		action = ActionCreated
	}
	if r.dryRun {
		return o.as(action, "dry run")
	}

	var item *ExternalItem
	var err error
	if state.IsCreated() {
		item, err = adapter.UpdateItem(ctx, state.Project, state.ExternalID, PatchFromInput(input))
	} else {
		item, err = adapter.CreateItem(ctx, state.Project, input)
	}
	if err != nil {
		return o.failed(err)
	}
	o.ExternalID = item.ExternalID

	patch := clearConflict(el, state)
	updated := el.Clone()
	patch.Apply(updated)
	state.markPushed(updated, item, cfg, e.now())
	patch.Metadata = state.Metadata()
	if _, err := e.elements.Update(ctx, el.ID, patch); err != nil {
		return o.failed(fmt.Errorf("storing sync state: %w", err))
	}

	return o.as(action, "")
}

// buildInput maps the element fully, or falls back to the simplified
// representation when the description or a label mapping is unavailable
func (e *Engine) buildInput(ctx context.Context, r *run, el *element.Element, cfg *FieldMapConfig) (ExternalItemInput, bool) {
	description, err := e.description(ctx, el)
	if err != nil {
		r.logger.Warn("Description unavailable, using simplified representation", "element_id", el.ID, "error", err)
		return BuildSimplifiedInput(el, el.Body, cfg), true
	}

	input, err := BuildExternalInput(el, description, cfg)
	if err != nil {
		r.logger.Warn("Field mapping failed, using simplified representation", "element_id", el.ID, "error", err)
		return BuildSimplifiedInput(el, description, cfg), true
	}
	return input, false
}

// Pull applies remote changes listed since each project's cursor
func (e *Engine) Pull(ctx context.Context, opts PullOptions) (*Result, error) {
	providers, err := e.providers(opts.Provider)
	if err != nil {
		return nil, err
	}

	ctx, r := e.startRun(ctx, OperationPull, opts.DryRun)
	for _, provider := range providers {
		adapter, err := e.adapters.Get(provider)
		if err != nil {
			return nil, err
		}

		projects := []string{opts.Project}
		if opts.Project == "" {
			if projects, err = e.linkedProjects(ctx, provider); err != nil {
				return nil, err
			}
		}

		for _, project := range projects {
			if err := e.pullProject(ctx, r, adapter, project, opts); err != nil {
				return e.finishRun(r), err
			}
		}
	}

	return e.finishRun(r), nil
}

func (e *Engine) providers(name string) ([]string, error) {
	if name == "" {
		return e.adapters.Providers(), nil
	}
	if _, err := e.adapters.Get(name); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// linkedProjects lists the distinct projects elements are linked to
func (e *Engine) linkedProjects(ctx context.Context, provider string) ([]string, error) {
	linked, err := e.elements.List(ctx, element.Filter{
		Linked:          element.Ptr(true),
		Provider:        provider,
		IncludeTerminal: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing linked elements: %w", err)
	}

	seen := make(map[string]bool)
	var projects []string
	for _, el := range linked {
		state, err := ReadSyncState(el)
		if err != nil || state == nil || state.Project == "" || seen[state.Project] {
			continue
		}
		seen[state.Project] = true
		projects = append(projects, state.Project)
	}
	sort.Strings(projects)
	return projects, nil
}

func (e *Engine) pullProject(ctx context.Context, r *run, adapter Adapter, project string, opts PullOptions) error {
	provider := adapter.Provider()
	logger := r.logger.With("provider", provider, "project", project)

	var since time.Time
	if e.cursors != nil {
		var err error
		if since, err = e.cursors.GetCursor(ctx, provider, project); err != nil {
			return fmt.Errorf("reading pull cursor: %w", err)
		}
	}

	items, err := adapter.ListItemsSince(ctx, project, since)
	if err != nil {
		return fmt.Errorf("listing %s items in %s: %w", provider, project, err)
	}
	logger.Debug("Listed remote items", "count", len(items), "since", since)

	linked, err := e.elements.List(ctx, element.Filter{
		IDs:             opts.IDs,
		Linked:          element.Ptr(true),
		Provider:        provider,
		Project:         project,
		IncludeTerminal: true,
	})
	if err != nil {
		return fmt.Errorf("listing linked elements: %w", err)
	}

	byExternalID := make(map[string]*element.Element, len(linked))
	for _, el := range linked {
		if state, err := ReadSyncState(el); err == nil && state.IsCreated() {
			byExternalID[state.ExternalID] = el
		}
	}

	cursor := since
	clean := true
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.Provider == "" {
			item.Provider = provider
		}
		if item.Project == "" {
			item.Project = project
		}

		started := e.now()
		var o Outcome
		if el, ok := byExternalID[item.ExternalID]; ok {
			o = e.pullElement(ctx, r, adapter, el, item)
		} else if opts.CreateMissing && len(opts.IDs) == 0 && item.State == StateOpen {
			o = e.createLocal(ctx, r, adapter, item)
		} else {
			continue
		}

		e.record(ctx, r, o, started)
		if o.Action == ActionFailed {
			clean = false
		}
		if item.UpdatedAt.After(cursor) {
			cursor = item.UpdatedAt
		}
	}

	if !clean || r.dryRun || e.cursors == nil || len(opts.IDs) > 0 || !cursor.After(since) {
		return nil
	}
	if err := e.cursors.SetCursor(ctx, provider, project, cursor); err != nil {
		logger.Warn("Failed to advance pull cursor", "cursor", cursor, "error", err)
	}
	return nil
}

func (e *Engine) pullElement(ctx context.Context, r *run, adapter Adapter, el *element.Element, item *ExternalItem) Outcome {
	state, err := ReadSyncState(el)
	if err != nil {
		return outcomeFor(el, nil).failed(err)
	}
	o := outcomeFor(el, state)

	switch {
	case !state.Direction.CanPull():
		return o.as(ActionSkipped, "direction is "+string(state.Direction))
	case state.Conflict != nil:
		return o.as(ActionSkipped, "unresolved conflict")
	case terminalSettled(el, state, item):
		return o.as(ActionSkipped, "terminal")
	case !HasRemoteChanged(item, state):
		return o.as(ActionUnchanged, "")
	case state.LastPushedHash != "" && state.Direction.CanPush() && HasLocalChanged(el, state):
		return e.reconcile(ctx, r, adapter, el, state, item, e.strategy, o)
	}

	return e.applyRemote(ctx, r, adapter.FieldMapConfig(), el, state, item, o)
}

// applyRemote writes the remote changes onto the element. With a baseline only
// the fields the provider changed are applied, otherwise the full snapshot.
func (e *Engine) applyRemote(ctx context.Context, r *run, cfg *FieldMapConfig, el *element.Element, state *SyncState, item *ExternalItem, o Outcome) Outcome {
	remote := RemoteFields(item, cfg)
	var updates map[string]any
	if state.RemoteBaseline == nil {
		updates = remote.Values(MappedFields)
	} else {
		updates = make(map[string]any)
		for _, f := range MappedFields {
			if !fieldEqual(f, remote, *state.RemoteBaseline) {
				updates[f] = remote.Value(f)
			}
		}
	}
	o.Fields = sortedKeys(updates)

	if r.dryRun {
		return o.as(ActionPulled, "dry run")
	}

	patch := clearConflict(el, state).Merge(LocalPatch(updates, nil))
	updated := el.Clone()
	patch.Apply(updated)
	state.markPulled(updated, item, cfg, e.now())
	patch.Metadata = state.Metadata()
	if _, err := e.elements.Update(ctx, el.ID, patch); err != nil {
		return o.failed(fmt.Errorf("applying remote changes: %w", err))
	}

	return o.as(ActionPulled, "")
}

// createLocal creates and links an element for an unknown remote item
func (e *Engine) createLocal(ctx context.Context, r *run, adapter Adapter, item *ExternalItem) Outcome {
	cfg := adapter.FieldMapConfig()
	parsed := ParseExternalLabels(item.Labels, cfg)
	now := e.now()

	el := &element.Element{
		ID:        ulid.ElementID(),
		Type:      element.TypeTask,
		Title:     item.Title,
		Body:      item.Body,
		Status:    cfg.StateToStatus(item.State, item.Labels),
		Priority:  parsed.PriorityOr(cfg.DefaultPriority),
		Category:  parsed.TaskTypeOr(cfg.DefaultTaskType),
		Assignees: nonNil(item.Assignees),
		Tags:      parsed.UserTags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if el.Priority == 0 {
		el.Priority = element.PriorityMedium
	}
	if el.Category == "" {
		el.Category = element.CategoryTask
	}

	state := &SyncState{
		Provider:    item.Provider,
		Project:     item.Project,
		ExternalID:  item.ExternalID,
		URL:         item.URL,
		Direction:   DirectionBidirectional,
		AdapterType: element.TypeTask,
	}
	o := outcomeFor(el, state)

	if err := el.Validate(); err != nil {
		return o.failed(fmt.Errorf("creating element for %s: %w", item.ExternalID, err))
	}
	if r.dryRun {
		return o.as(ActionCreated, "dry run")
	}

	state.markPulled(el, item, cfg, now)
	el.Metadata = state.Metadata()
	if err := e.elements.Create(ctx, el); err != nil {
		return o.failed(fmt.Errorf("creating element: %w", err))
	}
	return o.as(ActionCreated, "")
}

// Sync fetches every selected linked item and reconciles it with its element
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (*Result, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = e.strategy
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if opts.Provider != "" {
		if _, err := e.adapters.Get(opts.Provider); err != nil {
			return nil, err
		}
	}

	elements, err := e.elements.List(ctx, element.Filter{
		IDs:             opts.IDs,
		Linked:          element.Ptr(true),
		Provider:        opts.Provider,
		Project:         opts.Project,
		IncludeTerminal: true,
	})
	if err != nil {
		return nil, fmt.Errorf("listing linked elements: %w", err)
	}

	ctx, r := e.startRun(ctx, OperationSync, opts.DryRun)
	r.logger.Debug("Reconciling elements", "count", len(elements), "strategy", strategy)
	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			return e.finishRun(r), err
		}
		started := e.now()
		e.record(ctx, r, e.syncElement(ctx, r, el, strategy), started)
	}

	return e.finishRun(r), nil
}

func (e *Engine) syncElement(ctx context.Context, r *run, el *element.Element, strategy Strategy) Outcome {
	state, err := ReadSyncState(el)
	if err != nil {
		return outcomeFor(el, nil).failed(err)
	}
	o := outcomeFor(el, state)

	adapter, err := e.adapters.Get(state.Provider)
	if err != nil {
		return o.failed(err)
	}

	if !state.IsCreated() {
		if !state.Direction.CanPush() {
			return o.as(ActionSkipped, "no external item")
		}
		if el.Status.IsTerminal() {
			return o.as(ActionSkipped, "terminal")
		}
		return e.writeRemote(ctx, r, adapter, el, state, o)
	}

	item, err := adapter.GetItem(ctx, state.Project, state.ExternalID)
	if err != nil {
		return o.failed(err)
	}
	if terminalSettled(el, state, item) {
		return o.as(ActionSkipped, "terminal")
	}

	localChanged := HasLocalChanged(el, state)
	remoteChanged := HasRemoteChanged(item, state)
	switch {
	case !localChanged && !remoteChanged:
		return o.as(ActionUnchanged, "")
	case localChanged && !remoteChanged:
		if !state.Direction.CanPush() {
			return o.as(ActionSkipped, "direction is "+string(state.Direction))
		}
		return e.writeRemote(ctx, r, adapter, el, state, o)
	case !localChanged && remoteChanged:
		if !state.Direction.CanPull() {
			return o.as(ActionSkipped, "direction is "+string(state.Direction))
		}
		return e.applyRemote(ctx, r, adapter.FieldMapConfig(), el, state, item, o)
	}

	switch state.Direction {
	case DirectionPush:
		return e.writeRemote(ctx, r, adapter, el, state, o)
	case DirectionPull:
		return e.applyRemote(ctx, r, adapter.FieldMapConfig(), el, state, item, o)
	}
	return e.reconcile(ctx, r, adapter, el, state, item, strategy, o)
}

// reconcile resolves an element whose both sides changed. Hashes and
// baselines only advance when the conflict is resolved.
func (e *Engine) reconcile(ctx context.Context, r *run, adapter Adapter, el *element.Element, state *SyncState, item *ExternalItem, strategy Strategy, o Outcome) Outcome {
	cfg := adapter.FieldMapConfig()

	var detect *DetectOptions
	if state.LocalBaseline != nil && state.RemoteBaseline != nil {
		detect = &DetectOptions{Config: cfg, LocalBaseline: state.LocalBaseline, RemoteBaseline: state.RemoteBaseline}
	}
	conflict := DetectConflict(el, item, state, detect)
	if conflict == nil {
		if HasRemoteChanged(item, state) {
			return e.applyRemote(ctx, r, cfg, el, state, item, o)
		}
		return e.writeRemote(ctx, r, adapter, el, state, o)
	}
	conflict.DetectedAt = e.now()

	res := ResolveConflict(conflict, strategy, &ResolveInput{Element: el, Item: item, Config: cfg})
	o.Winner = res.Winner
	o.Fields = conflict.ConflictingFields
	if !res.Resolved {
		r.result.ManualConflicts = append(r.result.ManualConflicts, conflict)
	}

	if r.dryRun {
		if res.Resolved {
			return o.as(ActionResolved, "dry run")
		}
		return o.as(ActionConflict, "dry run")
	}

	current := item
	if len(res.RemoteUpdates) > 0 {
		patch, err := RemotePatch(res.RemoteUpdates, item, cfg)
		if err != nil {
			return o.failed(err)
		}
		if !patch.IsEmpty() {
			if current, err = adapter.UpdateItem(ctx, state.Project, state.ExternalID, patch); err != nil {
				return o.failed(err)
			}
		}
	}

	localPatch := LocalPatch(res.LocalUpdates, el)
	updated := el.Clone()
	localPatch.Apply(updated)

	if !res.Resolved {
		manualPatch, err := ApplyManualConflict(updated, conflict, res.ManualConflict.Local, res.ManualConflict.Remote)
		if err != nil {
			return o.failed(err)
		}
		if state.Conflict != nil && sameConflict(state.Conflict, res.ManualConflict, conflict.ConflictingFields) {
			manualPatch.Metadata = nil
		}
		patch := localPatch.Merge(manualPatch)
		if !patch.IsEmpty() {
			if _, err := e.elements.Update(ctx, el.ID, patch); err != nil {
				return o.failed(fmt.Errorf("recording conflict: %w", err))
			}
		}
		return o.as(ActionConflict, "manual resolution required")
	}

	if state.Conflict != nil || updated.HasTag(ConflictTag) {
		state.Conflict = nil
		localPatch.Tags = withoutTag(updated.Tags)
		updated.Tags = localPatch.Tags
	}
	now := e.now()
	state.markPushed(updated, current, cfg, now)
	state.LastPulledAt = &now
	localPatch.Metadata = state.Metadata()
	if _, err := e.elements.Update(ctx, el.ID, localPatch); err != nil {
		return o.failed(fmt.Errorf("applying resolution: %w", err))
	}

	return o.as(ActionResolved, string(res.Winner))
}

// terminalSettled reports a terminal element whose terminal status already
// reached the provider and whose item has not been reopened
func terminalSettled(el *element.Element, state *SyncState, item *ExternalItem) bool {
	if !el.Status.IsTerminal() {
		return false
	}
	if state.LocalBaseline == nil || !state.LocalBaseline.Status.IsTerminal() {
		return false
	}
	return item == nil || item.State != StateOpen
}

// clearConflict drops a stale conflict record and its tag
func clearConflict(el *element.Element, state *SyncState) element.Patch {
	if state.Conflict == nil {
		return element.Patch{}
	}
	state.Conflict = nil
	return element.Patch{Tags: withoutTag(el.Tags)}
}

func withoutTag(tags []string) []string {
	out := slices.DeleteFunc(slices.Clone(tags), func(t string) bool { return t == ConflictTag })
	if out == nil {
		out = []string{}
	}
	return out
}

// sameConflict reports whether the stored record already holds these values
func sameConflict(rec *ConflictRecord, manual *ManualConflict, fields []string) bool {
	if len(fields) == 0 {
		fields = []string{WholeRecord}
	}
	return slices.Equal(rec.Fields, fields) && jsonEqual(rec.Local, manual.Local) && jsonEqual(rec.Remote, manual.Remote)
}

func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
