package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterFollows(t *testing.T) {
	self := key(1)

	tests := []struct {
		name    string
		follows []string
		max     int
		want    []string
	}{
		{"empty", nil, 0, []string{}},
		{"drops self", []string{self, key(2)}, 0, []string{key(2)}},
		{"drops duplicates", []string{key(2), key(2), key(3)}, 0, []string{key(2), key(3)}},
		{"drops malformed", []string{"", "xyz", key(2)[:63], key(2)}, 0, []string{key(2)}},
		{"normalizes case and space", []string{" 00000000000000000000000000000000000000000000000000000000000000AB "}, 0, []string{key(0xab)}},
		{"caps list", []string{key(2), key(3), key(4)}, 2, []string{key(2), key(3)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterFollows(self, tt.follows, tt.max))
		})
	}
}

func TestFrontier(t *testing.T) {
	f := NewFrontier()

	assert.True(t, f.Push(key(3)))
	assert.True(t, f.Push(key(1)))
	assert.False(t, f.Push(key(3)))
	assert.Equal(t, 2, f.Len())

	assert.Equal(t, []string{key(1), key(3)}, f.Drain())
	assert.Zero(t, f.Len())
	assert.True(t, f.Push(key(3)))
}
