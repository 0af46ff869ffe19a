package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tildaslashalef/tether/internal/element"
)

// LinkOptions names the external item an element is linked to.
// An empty ExternalID creates a pending link; the next push creates the item.
type LinkOptions struct {
	Provider   string
	Project    string
	ExternalID string
	Direction  Direction
}

// Link attaches a sync state to an element
func (e *Engine) Link(ctx context.Context, elementID string, opts LinkOptions) (*element.Element, error) {
	if opts.Project == "" {
		return nil, errors.New("project is required")
	}
	direction, err := ParseDirection(string(opts.Direction))
	if err != nil {
		return nil, err
	}

	el, err := e.elements.Get(ctx, elementID)
	if err != nil {
		return nil, err
	}
	existing, err := ReadSyncState(el)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s %s#%s", ErrAlreadyLinked, existing.Provider, existing.Project, existing.ExternalID)
	}

	adapter, err := e.adapters.Get(opts.Provider)
	if err != nil {
		return nil, err
	}

	state := &SyncState{
		Provider:    opts.Provider,
		Project:     opts.Project,
		Direction:   direction,
		AdapterType: el.Type,
	}
	if opts.ExternalID != "" {
		item, err := adapter.GetItem(ctx, opts.Project, opts.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("fetching %s item %s: %w", opts.Provider, opts.ExternalID, err)
		}
		state.ExternalID = item.ExternalID
		state.URL = item.URL
	}

	updated, err := e.elements.Update(ctx, el.ID, element.Patch{Metadata: state.Metadata()})
	if err != nil {
		return nil, fmt.Errorf("storing link: %w", err)
	}

	e.logger.Info("Element linked", "element_id", el.ID, "provider", state.Provider,
		"project", state.Project, "external_id", state.ExternalID, "direction", state.Direction)
	return updated, nil
}

// Unlink removes an element's sync state and any unresolved conflict
func (e *Engine) Unlink(ctx context.Context, elementID string) (*element.Element, error) {
	el, err := e.elements.Get(ctx, elementID)
	if err != nil {
		return nil, err
	}
	state, err := ReadSyncState(el)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNotLinked
	}

	patch := element.Patch{Metadata: (*SyncState)(nil).Metadata()}
	if el.HasTag(ConflictTag) {
		patch.Tags = withoutTag(el.Tags)
	}

	updated, err := e.elements.Update(ctx, el.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("removing link: %w", err)
	}

	e.logger.Info("Element unlinked", "element_id", el.ID, "provider", state.Provider, "external_id", state.ExternalID)
	return updated, nil
}

// ResolveManual settles a recorded manual conflict by keeping one side's
// values for the disputed fields. The losing side is overwritten with them;
// fields edited on either side since the conflict are left for the next sync.
func (e *Engine) ResolveManual(ctx context.Context, elementID string, keep Winner) (*Outcome, error) {
	el, err := e.elements.Get(ctx, elementID)
	if err != nil {
		return nil, err
	}

	values, patch, err := ResolveManualConflict(el, keep)
	if err != nil {
		return nil, err
	}
	state, err := ReadSyncState(el)
	if err != nil {
		return nil, err
	}

	adapter, err := e.adapters.Get(state.Provider)
	if err != nil {
		return nil, err
	}
	cfg := adapter.FieldMapConfig()

	ctx, r := e.startRun(ctx, OperationResolve, false)
	started := e.now()
	o := outcomeFor(el, state)
	o.Winner = keep
	o.Fields = sortedKeys(values)

	fail := func(err error) (*Outcome, error) {
		failed := o.failed(err)
		e.record(ctx, r, failed, started)
		e.finishRun(r)
		return &failed, err
	}

	item, err := adapter.GetItem(ctx, state.Project, state.ExternalID)
	if err != nil {
		return fail(err)
	}

	if keep == WinnerLocal {
		remotePatch, err := RemotePatch(values, item, cfg)
		if err != nil {
			return fail(err)
		}
		if !remotePatch.IsEmpty() {
			if item, err = adapter.UpdateItem(ctx, state.Project, state.ExternalID, remotePatch); err != nil {
				return fail(err)
			}
		}
	} else {
		patch = patch.Merge(LocalPatch(values, nil))
	}

	updated := el.Clone()
	patch.Apply(updated)
	resolved, err := ReadSyncState(updated)
	if err != nil {
		return fail(err)
	}
	if err := resolved.markResolved(state.Conflict, updated, item, cfg, values, keep, e.now()); err != nil {
		return fail(fmt.Errorf("recording resolution: %w", err))
	}
	patch.Metadata = resolved.Metadata()

	if _, err := e.elements.Update(ctx, el.ID, patch); err != nil {
		return fail(fmt.Errorf("applying resolution: %w", err))
	}

	o = o.as(ActionResolved, "kept "+string(keep))
	e.record(ctx, r, o, started)
	e.finishRun(r)
	return &o, nil
}

// PendingConflict is an element waiting for a manual resolution
type PendingConflict struct {
	Element *element.Element
	State   *SyncState
}

// Conflicts lists elements carrying an unresolved manual conflict
func (e *Engine) Conflicts(ctx context.Context) ([]PendingConflict, error) {
	tagged, err := e.elements.List(ctx, element.Filter{Tag: ConflictTag, IncludeTerminal: true})
	if err != nil {
		return nil, fmt.Errorf("listing conflicted elements: %w", err)
	}

	var pending []PendingConflict
	for _, el := range tagged {
		state, err := ReadSyncState(el)
		if err != nil {
			e.logger.Warn("Unreadable sync state", "element_id", el.ID, "error", err)
			continue
		}
		if state == nil || state.Conflict == nil {
			continue
		}
		pending = append(pending, PendingConflict{Element: el, State: state})
	}
	return pending, nil
}
