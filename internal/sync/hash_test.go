package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tildaslashalef/tether/internal/element"
)

func TestHashLocal_Deterministic(t *testing.T) {
	a := testElement()
	b := testElement()
	b.Tags = []string{"urgent", "backend"}
	b.Assignees = []string{"ana", "ana"}

	assert.Equal(t, HashLocal(a), HashLocal(b), "set order must not matter")
	assert.Len(t, HashLocal(a), 64)
}

func TestHashLocal_IgnoresBookkeeping(t *testing.T) {
	e := testElement()
	before := HashLocal(e)

	state := &SyncState{Provider: "github", Project: "acme/app", ExternalID: "42"}
	state.markPushed(e, &ExternalItem{ExternalID: "42", Title: "Fix bug"}, testFieldMap(), time.Now())
	element.Patch{Metadata: state.Metadata()}.Apply(e)
	e.UpdatedAt = time.Now().Add(time.Hour)
	e.Tags = append(e.Tags, ConflictTag)

	assert.Equal(t, before, HashLocal(e))
}

func TestHashLocal_DetectsContentChanges(t *testing.T) {
	base := HashLocal(testElement())

	mutations := map[string]func(e *element.Element){
		"title":     func(e *element.Element) { e.Title = "Other" },
		"body":      func(e *element.Element) { e.Body = "" },
		"status":    func(e *element.Element) { e.Status = element.StatusClosed },
		"priority":  func(e *element.Element) { e.Priority = 1 },
		"category":  func(e *element.Element) { e.Category = "feature" },
		"tags":      func(e *element.Element) { e.Tags = []string{"backend"} },
		"assignees": func(e *element.Element) { e.Assignees = nil },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := testElement()
			mutate(e)
			assert.NotEqual(t, base, HashLocal(e))
		})
	}
}

func TestHashRemote(t *testing.T) {
	item := &ExternalItem{
		ExternalID: "42",
		Title:      "Fix bug",
		State:      StateOpen,
		Labels:     []string{"b", "a"},
		UpdatedAt:  time.Now(),
	}
	same := &ExternalItem{
		ExternalID: "43",
		Title:      "Fix bug",
		State:      StateOpen,
		Labels:     []string{"a", "b"},
		UpdatedAt:  time.Now().Add(time.Hour),
	}
	assert.Equal(t, HashRemote(item), HashRemote(same), "ids and timestamps are not hashed")

	same.State = StateClosed
	assert.NotEqual(t, HashRemote(item), HashRemote(same))
}
