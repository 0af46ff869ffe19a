package element

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/tether/internal/loggy"
	"github.com/tildaslashalef/tether/internal/ulid"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, e *Element) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*Element, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Element), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, id string, patch Patch) (*Element, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Element), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, filter Filter) ([]*Element, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Element), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func TestService_CreateAppliesDefaults(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, loggy.NewNoopLogger())
	ctx := context.Background()

	repo.On("Create", ctx, mock.AnythingOfType("*element.Element")).Return(nil)

	e, err := svc.Create(ctx, CreateInput{
		Title: "  Write release notes ",
		Tags:  []string{"docs", " docs", "", "release"},
	})
	require.NoError(t, err)

	assert.True(t, ulid.HasPrefixOf(e.ID, ulid.PrefixElement))
	assert.Equal(t, "Write release notes", e.Title)
	assert.Equal(t, TypeTask, e.Type)
	assert.Equal(t, StatusOpen, e.Status)
	assert.Equal(t, PriorityMedium, e.Priority)
	assert.Equal(t, CategoryTask, e.Category)
	assert.Equal(t, []string{"docs", "release"}, e.Tags)
	repo.AssertExpectations(t)
}

func TestService_CreateRejectsInvalid(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, loggy.NewNoopLogger())

	_, err := svc.Create(context.Background(), CreateInput{Title: " "})
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), CreateInput{Title: "x", Priority: 9})
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), CreateInput{Title: "x", Status: "done"})
	assert.Error(t, err)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_CreatePropagatesRepositoryError(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, loggy.NewNoopLogger())
	ctx := context.Background()

	repo.On("Create", ctx, mock.Anything).Return(errors.New("disk full"))

	_, err := svc.Create(ctx, CreateInput{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestService_UpdateValidates(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, loggy.NewNoopLogger())
	ctx := context.Background()

	_, err := svc.Update(ctx, "el-1", Patch{Status: Ptr(Status("finished"))})
	assert.Error(t, err)

	_, err = svc.Update(ctx, "el-1", Patch{Priority: Ptr(0)})
	assert.Error(t, err)

	_, err = svc.Update(ctx, "el-1", Patch{Title: Ptr("")})
	assert.Error(t, err)

	want := &Element{ID: "el-1", Title: "x", Tags: []string{"a", "b"}}
	repo.On("Update", ctx, "el-1", Patch{Tags: []string{"a", "b"}}).Return(want, nil)

	got, err := svc.Update(ctx, "el-1", Patch{Tags: []string{"a", " b ", "a"}})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	repo.AssertExpectations(t)
}

func TestService_Delete(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, loggy.NewNoopLogger())
	ctx := context.Background()

	repo.On("Delete", ctx, "el-1").Return(nil)
	repo.On("Delete", ctx, "el-2").Return(ErrElementNotFound)

	assert.NoError(t, svc.Delete(ctx, "el-1"))
	assert.ErrorIs(t, svc.Delete(ctx, "el-2"), ErrElementNotFound)
}
