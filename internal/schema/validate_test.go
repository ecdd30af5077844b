package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCheckpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"id": "alice", "lwt": 1700000000000.25}`, false},
		{"zero", `{"id": "", "lwt": 0}`, false},
		{"missing lwt", `{"id": "alice"}`, true},
		{"negative lwt", `{"id": "alice", "lwt": -1}`, true},
		{"lwt above maximum", `{"id": "alice", "lwt": 1e16}`, true},
		{"lwt finer than a hundredth", `{"id": "alice", "lwt": 1.001}`, true},
		{"numeric id", `{"id": 7, "lwt": 1}`, true},
		{"unknown field", `{"id": "alice", "lwt": 1, "rev": "1-x"}`, true},
		{"not json", `{"id": `, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSON(DefaultCheckpointSchema(), []byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
