package cursor

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcvext/message"
)

func TestScriptedCycles(t *testing.T) {
	s := NewScripted(message.Point{X: 1, Y: 2}, message.Point{X: 3, Y: 4})

	var got []message.Point
	for range 5 {
		p, err := s.Position()
		require.NoError(t, err)
		got = append(got, p)
	}
	assert.Equal(t, []message.Point{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 1, Y: 2}, {X: 3, Y: 4}, {X: 1, Y: 2}}, got)
}

func TestScriptedEmpty(t *testing.T) {
	_, err := NewScripted().Position()
	assert.Error(t, err)
}

func TestSystemUnsupported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("GetCursorPos is available on windows")
	}
	_, err := System().Position()
	assert.ErrorIs(t, err, ErrUnsupported)
}
