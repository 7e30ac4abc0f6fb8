package worldrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Trip to Osaka", "Trip to Osaka"},
		{"quoted", `"Trip to Osaka"`, "Trip to Osaka"},
		{"trailing punctuation", "Trip to Osaka.", "Trip to Osaka"},
		{"multiline keeps first line", "Trip to Osaka\nHere is why:", "Trip to Osaka"},
		{"whitespace", "  Trip to Osaka  ", "Trip to Osaka"},
		{"empty", "   ", ""},
		{"clamped", "A very long title that keeps going well past any reasonable chat name length limit", "A very long title that keeps going well past any reasonable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeTitle(tt.in))
		})
	}
}
