package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_IsSensitiveField(t *testing.T) {
	r := NewRedactor()

	assert.True(t, r.IsSensitiveField("taskToken"))
	assert.True(t, r.IsSensitiveField("Authorization"))
	assert.False(t, r.IsSensitiveField("execution_id"))

	r.AddAllowlistField("token")
	assert.False(t, r.IsSensitiveField("token"))

	r.AddSensitiveField("county")
	assert.True(t, r.IsSensitiveField("County"))
}

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name  string
		input string
		clean bool
	}{
		{"bearer", "Authorization: Bearer abc.def.ghi", false},
		{"jwt", "token eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig", false},
		{"task token", `{"taskToken":"AAAA"}`, false},
		{"plain", "execution E1 drained", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.RedactString(tt.input)
			if tt.clean {
				assert.Equal(t, tt.input, out)
			} else {
				assert.Contains(t, out, RedactedValue)
			}
		})
	}

	require.NoError(t, r.AddSensitivePattern(`county-\d+`))
	assert.Equal(t, "x "+RedactedValue, r.RedactString("x county-7"))
	assert.Error(t, r.AddSensitivePattern("("))
}

func TestRedactingHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), nil))

	logger.With("secret", "s").Info("resume",
		slog.Group("execution", slog.String("id", "E1"), slog.String("task_token", "t")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, RedactedValue, entry["secret"])
	group := entry["execution"].(map[string]any)
	assert.Equal(t, "E1", group["id"])
	assert.Equal(t, RedactedValue, group["task_token"])
}
