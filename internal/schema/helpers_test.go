package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/document"
)

func TestFinalFields(t *testing.T) {
	s := humanSchema()
	s.Properties["createdAt"] = map[string]any{"type": "number", "final": true}
	s.Properties["owner"] = map[string]any{"type": "string", "final": false}

	assert.Equal(t, []string{"createdAt", "id"}, FinalFields(s))
}

func TestByObjectPath(t *testing.T) {
	s := humanSchema()
	s.Properties["address"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"street": map[string]any{"type": "string", "maxLength": float64(80)},
		},
	}

	street, ok := ByObjectPath(s, "address.street")
	require.True(t, ok)
	assert.Equal(t, "string", street["type"])

	_, ok = ByObjectPath(s, "address.zip")
	assert.False(t, ok)
	_, ok = ByObjectPath(s, "name.first")
	assert.False(t, ok)
}

func TestPrimaryKeyMaxLength(t *testing.T) {
	s := humanSchema()
	assert.Equal(t, 0, PrimaryKeyMaxLength(s))

	s.Properties[s.PrimaryPath()] = map[string]any{"type": "string", "maxLength": float64(100)}
	assert.Equal(t, 100, PrimaryKeyMaxLength(s))
}

func TestFillObjectWithDefaults(t *testing.T) {
	s := humanSchema()
	s.Properties["active"] = map[string]any{"type": "boolean", "default": true}
	s.Properties["tags"] = map[string]any{"type": "array", "default": []any{"new"}}

	doc := FillObjectWithDefaults(s, document.Data{"id": "a", "active": false})
	assert.Equal(t, false, doc["active"])
	assert.Equal(t, []any{"new"}, doc["tags"])

	// Defaults are copied, not shared.
	doc["tags"].([]any)[0] = "changed"
	assert.Equal(t, []any{"new"}, DefaultValues(s)["tags"])
}

func TestDefaultCheckpointSchema(t *testing.T) {
	cp := DefaultCheckpointSchema()
	assert.Equal(t, []any{"id", "lwt"}, cp["required"])
	assert.Equal(t, false, cp["additionalProperties"])
}
