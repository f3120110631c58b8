package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tomorm/tomorm/query"
)

func newTestModel(table string) *Model {
	return New(table, func() *query.Builder { return nil })
}

func TestModelFillRespectsFillable(t *testing.T) {
	m := newTestModel("users")
	m.Fillable = []string{"name", "email"}

	err := m.Fill(map[string]any{"name": "ada"})
	assert.NoError(t, err)
	assert.Equal(t, "ada", m.GetAttribute("name"))

	err = m.Fill(map[string]any{"is_admin": true})
	assert.Error(t, err)
	var maErr *MassAssignmentError
	assert.ErrorAs(t, err, &maErr)
	assert.Equal(t, "is_admin", maErr.Key)
}

func TestModelFillTotallyGuardedByDefault(t *testing.T) {
	m := newTestModel("users")
	err := m.Fill(map[string]any{"name": "ada"})
	assert.ErrorIs(t, err, ErrMassAssignment)
}

func TestModelFillRejectsGuardedKey(t *testing.T) {
	m := newTestModel("users")
	m.Fillable = []string{"name"}
	m.Guarded = []string{"is_admin"}

	err := m.Fill(map[string]any{"is_admin": true})
	assert.ErrorIs(t, err, ErrMassAssignment)
}

func TestModelFillRejectsDottedKey(t *testing.T) {
	m := newTestModel("users")
	m.Fillable = []string{"*"}
	err := m.Fill(map[string]any{"profile.bio": "hi"})
	assert.ErrorIs(t, err, ErrMassAssignment)
}

func TestModelForceFillBypassesGuards(t *testing.T) {
	m := newTestModel("users")
	m.ForceFill(map[string]any{"is_admin": true})
	assert.Equal(t, true, m.GetAttribute("is_admin"))
}

func TestModelHydrateFromMarksExistsAndClean(t *testing.T) {
	m := newTestModel("users")
	m.HydrateFrom(map[string]any{"id": int64(1), "name": "ada"})

	assert.True(t, m.Exists)
	assert.True(t, m.IsClean())

	m.SetAttribute("name", "grace")
	assert.True(t, m.IsDirty())
	assert.Equal(t, map[string]any{"name": "grace"}, m.GetDirty())
}

func TestModelReplicateDropsKeyAndTimestamps(t *testing.T) {
	m := newTestModel("users")
	m.HydrateFrom(map[string]any{
		"id": int64(1), "name": "ada", "created_at": "t1", "updated_at": "t2",
	})

	clone := m.Replicate()
	assert.False(t, clone.Exists)
	assert.Nil(t, clone.GetAttribute("id"))
	assert.Nil(t, clone.GetAttribute("created_at"))
	assert.Equal(t, "ada", clone.GetAttribute("name"))
}

func TestModelIsComparesIdentity(t *testing.T) {
	a := newTestModel("users")
	a.HydrateFrom(map[string]any{"id": int64(1)})
	b := newTestModel("users")
	b.HydrateFrom(map[string]any{"id": int64(1)})
	c := newTestModel("users")
	c.HydrateFrom(map[string]any{"id": int64(2)})

	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
	assert.False(t, a.Is(nil))
}

func TestModelEqualsRequiresSameAttributesAndRelations(t *testing.T) {
	a := newTestModel("users")
	a.HydrateFrom(map[string]any{"id": int64(1), "name": "ada"})
	b := newTestModel("users")
	b.HydrateFrom(map[string]any{"id": int64(1), "name": "ada"})

	assert.True(t, a.Equals(b))

	b.SetAttribute("name", "grace")
	assert.False(t, a.Equals(b))
}

func TestModelGetRelationValueErrorsWhenUndeclared(t *testing.T) {
	m := newTestModel("users")
	_, err := m.GetRelationValue(nil, "posts")
	var nf *RelationNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestModelLoadedRelationErrorsWhenNotYetLoaded(t *testing.T) {
	m := newTestModel("users")
	_, err := m.LoadedRelation("posts")
	var nl *RelationNotLoadedError
	assert.ErrorAs(t, err, &nl)
}

func TestModelSetRelationMakesItLoaded(t *testing.T) {
	m := newTestModel("users")
	child := newTestModel("posts")
	m.SetRelation("posts", RelationValue{Kind: RelationMany, Many: []*Model{child}})

	v, err := m.LoadedRelation("posts")
	assert.NoError(t, err)
	assert.Equal(t, RelationMany, v.Kind)
	assert.Len(t, v.Many, 1)
}
