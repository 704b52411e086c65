package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	m := New(true)

	tests := []struct {
		in, want string
	}{
		{"mail bob@example.com now", "mail [EMAIL] now"},
		{"card 4111111111111111 ok", "card [CARD] ok"},
		{"short 411111111111 stays", "short 411111111111 stays"},
		{"17 digits 41111111111111112", "17 digits 41111111111111112"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Mask(tt.in), tt.in)
	}
}

func TestDisabled(t *testing.T) {
	m := New(false)
	assert.Equal(t, "bob@example.com", m.Mask("bob@example.com"))
	assert.Nil(t, m.Func())

	var nilMasker *Masker
	assert.Equal(t, "x@y.io", nilMasker.Mask("x@y.io"))
}

func TestMaskValue(t *testing.T) {
	m := New(true)
	assert.Equal(t, "[EMAIL]", m.MaskValue("a@b.co"))
	assert.Equal(t, 42, m.MaskValue(42))
	assert.NotNil(t, m.Func())
}
