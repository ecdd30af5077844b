package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessors(t *testing.T) {
	d := Data{
		"id":         "a",
		FieldRev:     "1-x",
		FieldDeleted: true,
		FieldMeta:    map[string]any{MetaLWT: 100.5},
		"address":    map[string]any{"city": "Oslo"},
	}

	assert.Equal(t, "1-x", d.Rev())
	assert.True(t, d.Deleted())
	lwt, ok := d.LWT()
	require.True(t, ok)
	assert.Equal(t, 100.5, lwt)
	assert.Equal(t, "a", d.ID("id"))

	city, ok := d.Get("address.city")
	require.True(t, ok)
	assert.Equal(t, "Oslo", city)

	_, ok = d.Get("address.zip")
	assert.False(t, ok)
	_, ok = d.Get("id.nested")
	assert.False(t, ok)
}

func TestLWTMissingOrInvalid(t *testing.T) {
	_, ok := Data{}.LWT()
	assert.False(t, ok)

	_, ok = Data{FieldMeta: map[string]any{MetaLWT: "soon"}}.LWT()
	assert.False(t, ok)

	lwt, ok := Data{FieldMeta: map[string]any{MetaLWT: 7}}.LWT()
	require.True(t, ok)
	assert.Equal(t, 7.0, lwt)
}

func TestCloneIsDeep(t *testing.T) {
	orig := Data{
		"tags":    []any{"a", map[string]any{"k": "v"}},
		FieldMeta: map[string]any{MetaLWT: 1.0},
	}
	c := orig.Clone()
	c.Set("_meta.lwt", 2.0)
	c["tags"].([]any)[1].(map[string]any)["k"] = "changed"

	lwt, _ := orig.LWT()
	assert.Equal(t, 1.0, lwt)
	assert.Equal(t, "v", orig["tags"].([]any)[1].(map[string]any)["k"])
	assert.Nil(t, Data(nil).Clone())
}

func TestWithLWT(t *testing.T) {
	d := Data{"id": "a"}
	out := d.WithLWT(42)

	lwt, ok := out.LWT()
	require.True(t, ok)
	assert.Equal(t, 42.0, lwt)
	_, ok = d.LWT()
	assert.False(t, ok, "original must not be mutated")
}

func TestMarshalRoundTrip(t *testing.T) {
	d := Data{"id": "a", FieldDeleted: false, FieldMeta: map[string]any{MetaLWT: 3.25}}
	data, err := Marshal(d)
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestRevisions(t *testing.T) {
	first := CreateRevision("abc", nil)
	assert.Equal(t, "1-abc", first)

	second := CreateRevision("def", Data{FieldRev: first})
	assert.Equal(t, "2-def", second)

	h, err := RevisionHeight("12-zz")
	require.NoError(t, err)
	assert.Equal(t, 12, h)

	for _, bad := range []string{"", "nodash", "x-1", "0-a"} {
		_, err := RevisionHeight(bad)
		assert.Error(t, err, bad)
	}
}
