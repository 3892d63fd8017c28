package tokenutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokensBlank(t *testing.T) {
	assert.Zero(t, CountTokens(""))
	assert.Zero(t, CountTokens("  \n\t"))
}

func TestCountTokensText(t *testing.T) {
	got := CountTokens("hello world")
	assert.Positive(t, got)
	if loadEncoding() != nil {
		assert.Equal(t, 2, got)
	}
}

func TestEstimateFast(t *testing.T) {
	cases := map[string]int{
		"":        0,
		"   ":     0,
		"a":       1,
		"a b c d": 4,
		"abcdefghijklmnopqrstuvwxyz": 6,
	}
	for text, want := range cases {
		assert.Equal(t, want, EstimateFast(text), "text %q", text)
	}
}
