package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttributesSetPreservesInsertionOrder(t *testing.T) {
	a := NewAttributes()
	a.Set("name", "ada")
	a.Set("id", 1)
	a.Set("name", "ada lovelace")

	assert.Equal(t, []string{"name", "id"}, a.Keys())
	v, ok := a.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "ada lovelace", v)
}

func TestAttributesUnsetRemovesFromOrder(t *testing.T) {
	a := NewAttributes()
	a.Set("id", 1)
	a.Set("name", "ada")
	a.Set("email", "ada@example.com")

	a.Unset("name")

	assert.Equal(t, []string{"id", "email"}, a.Keys())
	_, ok := a.Get("name")
	assert.False(t, ok)
}

func TestAttributesDirtyTracking(t *testing.T) {
	a := NewAttributes()
	a.Set("id", 1)
	a.Set("name", "ada")
	a.SyncOriginal()

	assert.True(t, a.IsClean())

	a.Set("name", "grace")
	assert.True(t, a.IsDirty())
	assert.True(t, a.IsDirty("name"))
	assert.False(t, a.IsDirty("id"))

	dirty := a.GetDirty()
	assert.Equal(t, map[string]any{"name": "grace"}, dirty)

	a.SyncOriginal()
	assert.True(t, a.IsClean())
}

func TestAttributesGetDirtyIncludesRemovedKeys(t *testing.T) {
	a := NewAttributes()
	a.Set("id", 1)
	a.Set("nickname", "ace")
	a.SyncOriginal()

	a.Unset("nickname")

	dirty := a.GetDirty()
	assert.Equal(t, map[string]any{"nickname": nil}, dirty)
}

func TestAttributesDirtyTrackingHandlesNonComparableValues(t *testing.T) {
	a := NewAttributes()
	a.Set("tags", []string{"a", "b"})
	a.SyncOriginal()

	assert.True(t, a.IsClean())

	a.Set("tags", []string{"a", "b"})
	assert.True(t, a.IsClean(), "equal slices should not be reported dirty")

	a.Set("tags", []string{"a", "c"})
	assert.True(t, a.IsDirty("tags"))
}

func TestAttributesSyncChangesSnapshotsLastDirtySet(t *testing.T) {
	a := NewAttributes()
	a.Set("id", 1)
	a.SyncOriginal()

	a.Set("id", 2)
	a.SyncChanges()
	a.SyncOriginal()

	assert.Equal(t, map[string]any{"id": 2}, a.GetChanges())
	assert.True(t, a.IsClean())
}
