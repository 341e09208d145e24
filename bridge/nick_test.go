package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeNick(t *testing.T) {
	tests := []struct {
		in  string
		out string
	}{
		{"alice", "alice"},
		{"first.last", "first-last"},
		{"émile", "emile"},
		{"with space", "with_space"},
		{"-dashfirst", "_-dashfirst"},
		{"9lives", "_9lives"},
		{"", "_"},
		{"ok[box]", "ok[box]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.out, sanitizeNick(tt.in), "sanitizeNick(%q)", tt.in)
	}
}

func TestShadowNick(t *testing.T) {
	// Short names just get the suffix.
	assert.Equal(t, "alice-slack", shadowNick("alice", "-slack", 16))

	// Long names are truncated to maxLen minus the suffix.
	assert.Equal(t, "firstname--slack", shadowNick("firstname.lastname", "-slack", 16))
	assert.Len(t, shadowNick("firstname.lastname", "-slack", 16), 16)

	// Servers with a higher NICKLEN keep more of the name.
	assert.Equal(t, "firstname-lastnam-slack", shadowNick("firstname.lastname", "-slack", 23))
}
