package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type blueprint struct {
		Title string `json:"title"`
		Acts  int    `json:"acts"`
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"plain", `{"title": "Dust", "acts": 3}`},
		{"fenced", "```json\n{\"title\": \"Dust\", \"acts\": 3}\n```"},
		{"trailing comma", `{"title": "Dust", "acts": 3,}`},
		{"single quotes", `{'title': 'Dust', 'acts': 3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got blueprint
			require.NoError(t, DecodeJSON(tt.raw, &got))
			require.Equal(t, "Dust", got.Title)
			require.Equal(t, 3, got.Acts)
		})
	}

	var got blueprint
	require.Error(t, DecodeJSON("this is prose, not json", &got))
}
