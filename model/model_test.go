package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupKnownMagic(t *testing.T) {
	d, ok := Lookup(0xf449)
	assert.True(t, ok)
	assert.Equal(t, "IAP15F2K61S2", d.Name)
	assert.True(t, d.RCTrimCapable)
}

func TestLookupUnknownMagic(t *testing.T) {
	_, ok := Lookup(0xdead)
	assert.False(t, ok)
}

func TestAmbiguousMagicsFlagged(t *testing.T) {
	assert.True(t, AmbiguousMagics[0xf294])
	assert.True(t, AmbiguousMagics[0xf2d4])
	assert.False(t, AmbiguousMagics[0xf449])
}
