package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/document"
)

func compositeSchema() *Schema {
	return &Schema{
		PrimaryKey: CompositeKey("id", "|", "firstName", "lastName"),
		Properties: map[string]any{
			"id":        map[string]any{"type": "string"},
			"firstName": map[string]any{"type": "string"},
			"lastName":  map[string]any{"type": "string"},
		},
	}
}

func TestPrimaryFieldName(t *testing.T) {
	assert.Equal(t, "id", PrimaryFieldName(SingleKey("id")))
	assert.Equal(t, "key", PrimaryFieldName(CompositeKey("key", "-", "a", "b")))
}

func TestComposePrimaryKey(t *testing.T) {
	tests := []struct {
		name    string
		schema  *Schema
		doc     document.Data
		want    string
		missing string
	}{
		{
			name:   "single field",
			schema: humanSchema(),
			doc:    document.Data{"id": "alice"},
			want:   "alice",
		},
		{
			name:   "composite",
			schema: compositeSchema(),
			doc:    document.Data{"firstName": "Ada", "lastName": "Lovelace"},
			want:   "Ada|Lovelace",
		},
		{
			name:   "composite with number",
			schema: compositeSchemaWithNumber(),
			doc:    document.Data{"shelf": "b", "slot": float64(12)},
			want:   "b:12",
		},
		{
			name:    "composite missing field",
			schema:  compositeSchema(),
			doc:     document.Data{"firstName": "Ada"},
			missing: "lastName",
		},
		{
			name:    "single field missing",
			schema:  humanSchema(),
			doc:     document.Data{"name": "x"},
			missing: "id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComposePrimaryKey(tt.schema, tt.doc)
			if tt.missing != "" {
				require.Error(t, err)
				assert.True(t, IsMissingField(err))
				var mf *MissingFieldError
				require.ErrorAs(t, err, &mf)
				assert.Equal(t, tt.missing, mf.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func compositeSchemaWithNumber() *Schema {
	return &Schema{PrimaryKey: CompositeKey("key", ":", "shelf", "slot")}
}

func TestFillPrimaryKey(t *testing.T) {
	t.Run("single field is a no-op", func(t *testing.T) {
		doc := document.Data{"id": "a", "name": "x"}
		got, err := FillPrimaryKey(humanSchema(), doc)
		require.NoError(t, err)
		assert.Equal(t, document.Data{"id": "a", "name": "x"}, got)
	})

	t.Run("composite sets key", func(t *testing.T) {
		got, err := FillPrimaryKey(compositeSchema(), document.Data{"firstName": "Ada", "lastName": "Lovelace"})
		require.NoError(t, err)
		assert.Equal(t, "Ada|Lovelace", got["id"])
	})

	t.Run("composite with matching key", func(t *testing.T) {
		got, err := FillPrimaryKey(compositeSchema(), document.Data{"id": "Ada|Lovelace", "firstName": "Ada", "lastName": "Lovelace"})
		require.NoError(t, err)
		assert.Equal(t, "Ada|Lovelace", got["id"])
	})

	t.Run("composite with stale key", func(t *testing.T) {
		_, err := FillPrimaryKey(compositeSchema(), document.Data{"id": "Ada|Byron", "firstName": "Ada", "lastName": "Lovelace"})
		require.Error(t, err)
		assert.True(t, IsPrimaryKeyMismatch(err))
		var mm *PrimaryKeyMismatchError
		require.ErrorAs(t, err, &mm)
		assert.Equal(t, "Ada|Byron", mm.Existing)
		assert.Equal(t, "Ada|Lovelace", mm.Composed)
	})

	t.Run("composite missing field", func(t *testing.T) {
		_, err := FillPrimaryKey(compositeSchema(), document.Data{"lastName": "Lovelace"})
		assert.True(t, IsMissingField(err))
	})
}

func TestPrimaryKeyJSON(t *testing.T) {
	var single PrimaryKey
	require.NoError(t, json.Unmarshal([]byte(`"id"`), &single))
	assert.Equal(t, SingleKey("id"), single)

	var composite PrimaryKey
	require.NoError(t, json.Unmarshal([]byte(`{"key":"id","fields":["a","b"],"separator":"|"}`), &composite))
	assert.Equal(t, CompositeKey("id", "|", "a", "b"), composite)
	assert.True(t, composite.IsComposite())

	out, err := json.Marshal(composite)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"id","fields":["a","b"],"separator":"|"}`, string(out))

	var bad PrimaryKey
	assert.Error(t, json.Unmarshal([]byte(`{"key":"id"}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`12`), &bad))
}
