package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugifyName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Alice", "alice"},
		{"Alice Smith", "alice_smith"},
		{"  Bob  Jr. ", "bob__jr"},
		{"Édith O'Brien", "dith_obrien"},
		{"agent 007", "agent_007"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SlugifyName(tc.in), "input %q", tc.in)
	}
}
