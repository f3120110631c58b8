package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalKeyValuesDedupsAndSkipsNil(t *testing.T) {
	users := []*Model{newTestModel("users"), newTestModel("users"), newTestModel("users"), newTestModel("users")}
	users[0].SetAttribute("id", int64(1))
	users[1].SetAttribute("id", int64(1))
	users[2].SetAttribute("id", int64(2))

	got := localKeyValues(users, "id")
	assert.ElementsMatch(t, []any{int64(1), int64(2)}, got)
}

func TestHasManyMatchBucketsByForeignKey(t *testing.T) {
	rel := &HasManyRelation{ForeignKey: "user_id", LocalKey: "id"}

	alice := newTestModel("users")
	alice.SetAttribute("id", int64(1))
	bob := newTestModel("users")
	bob.SetAttribute("id", int64(2))
	parents := []*Model{alice, bob}

	rel.InitRelation(parents, "posts")
	for _, p := range parents {
		v, err := p.LoadedRelation("posts")
		assert.NoError(t, err)
		assert.Equal(t, RelationMany, v.Kind)
		assert.Empty(t, v.Many)
	}

	post1 := newTestModel("posts")
	post1.SetAttribute("user_id", int64(1))
	post2 := newTestModel("posts")
	post2.SetAttribute("user_id", int64(1))
	post3 := newTestModel("posts")
	post3.SetAttribute("user_id", int64(2))

	rel.Match(parents, []*Model{post1, post2, post3}, "posts")

	aliceposts, _ := alice.LoadedRelation("posts")
	assert.Len(t, aliceposts.Many, 2)
	bobposts, _ := bob.LoadedRelation("posts")
	assert.Len(t, bobposts.Many, 1)
}

func TestBelongsToMatchAssignsSingleOwner(t *testing.T) {
	rel := &BelongsToRelation{ForeignKey: "author_id", OwnerKey: "id"}

	post := newTestModel("posts")
	post.SetAttribute("author_id", int64(7))
	parents := []*Model{post}

	rel.InitRelation(parents, "author")

	author := newTestModel("users")
	author.SetAttribute("id", int64(7))

	rel.Match(parents, []*Model{author}, "author")

	v, err := post.LoadedRelation("author")
	assert.NoError(t, err)
	assert.Equal(t, RelationOne, v.Kind)
	assert.True(t, v.One.Is(author))
}

func TestBelongsToManyMatchReadsPivotPrefixedForeignKey(t *testing.T) {
	rel := &BelongsToManyRelation{ForeignPivotKey: "user_id", RelatedPivotKey: "role_id", ParentKey: "id"}

	alice := newTestModel("users")
	alice.SetAttribute("id", int64(1))
	parents := []*Model{alice}
	rel.InitRelation(parents, "roles")

	admin := newTestModel("roles")
	admin.SetAttribute("id", int64(10))
	admin.SetAttribute("pivot_user_id", int64(1))

	rel.Match(parents, []*Model{admin}, "roles")

	v, _ := alice.LoadedRelation("roles")
	assert.Len(t, v.Many, 1)
	assert.True(t, v.Many[0].Is(admin))
}
