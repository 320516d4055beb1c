package utilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSnowflakeIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewSnowflakeID()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewKSUIDIsSortableText(t *testing.T) {
	a, b := NewKSUID(), NewKSUID()
	assert.Len(t, a, 27)
	assert.NotEqual(t, a, b)
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, "debug", levelFromString("debug").String())
	assert.Equal(t, "warn", levelFromString("warning").String())
	assert.Equal(t, "info", levelFromString("nonsense").String())
}
