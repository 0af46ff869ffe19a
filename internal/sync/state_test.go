package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/tether/internal/element"
)

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, DirectionBidirectional, d)

	d, err = ParseDirection("pull")
	require.NoError(t, err)
	assert.True(t, d.CanPull())
	assert.False(t, d.CanPush())

	_, err = ParseDirection("sideways")
	assert.Error(t, err)

	assert.True(t, DirectionBidirectional.CanPush())
	assert.True(t, DirectionBidirectional.CanPull())
	assert.False(t, DirectionPush.CanPull())
}

func TestReadSyncState_Unlinked(t *testing.T) {
	state, err := ReadSyncState(testElement())
	require.NoError(t, err)
	assert.Nil(t, state)

	state, err = ReadSyncState(nil)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSyncState_MetadataRoundTrip(t *testing.T) {
	pushedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	original := &SyncState{
		Provider:       "github",
		Project:        "acme/app",
		ExternalID:     "42",
		URL:            "https://github.com/acme/app/issues/42",
		Direction:      DirectionPush,
		AdapterType:    element.TypeTask,
		LastPushedHash: "abc",
		LastPushedAt:   &pushedAt,
		LocalBaseline:  &FieldSnapshot{Title: "t", Priority: 2, Tags: []string{"x"}, Assignees: []string{}},
	}

	e := linkedElement(t, original)
	decoded, err := ReadSyncState(e)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
	assert.True(t, decoded.IsCreated())
}

func TestSyncState_DefaultsDirection(t *testing.T) {
	e := testElement()
	e.Metadata = map[string]any{element.ExternalSyncKey: map[string]any{"provider": "github", "project": "acme/app"}}

	state, err := ReadSyncState(e)
	require.NoError(t, err)
	assert.Equal(t, DirectionBidirectional, state.Direction)
	assert.False(t, state.IsCreated())
}

func TestSyncState_Malformed(t *testing.T) {
	e := testElement()
	e.Metadata = map[string]any{element.ExternalSyncKey: "not an object"}

	_, err := ReadSyncState(e)
	assert.Error(t, err)
}

func TestSyncState_NilMetadataUnlinks(t *testing.T) {
	e := linkedElement(t, &SyncState{Provider: "github", Project: "acme/app"})
	element.Patch{Metadata: (*SyncState)(nil).Metadata()}.Apply(e)

	state, err := ReadSyncState(e)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSyncState_Clone(t *testing.T) {
	s := &SyncState{
		LocalBaseline: &FieldSnapshot{Tags: []string{"a"}},
		Conflict:      &ConflictRecord{Fields: []string{FieldTitle}},
	}
	c := s.Clone()
	c.LocalBaseline.Tags[0] = "b"
	c.Conflict.Strategy = StrategyManual

	assert.Equal(t, "a", s.LocalBaseline.Tags[0])
	assert.Empty(t, s.Conflict.Strategy)
	assert.Nil(t, (*SyncState)(nil).Clone())
}

func TestSyncState_MarkPulledStoresBothHashes(t *testing.T) {
	e := testElement()
	item := &ExternalItem{ExternalID: "42", URL: "u", Title: "Fix bug", State: StateOpen}
	state := &SyncState{}

	state.markPulled(e, item, testFieldMap(), time.Now())
	assert.Equal(t, HashRemote(item), state.LastPulledHash)
	assert.Equal(t, HashLocal(e), state.LastPushedHash)
	assert.Equal(t, "42", state.ExternalID)
	assert.NotNil(t, state.LocalBaseline)
	assert.NotNil(t, state.RemoteBaseline)
	assert.False(t, HasLocalChanged(e, state))
	assert.False(t, HasRemoteChanged(item, state))
}
