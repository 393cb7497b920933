// Package cursor reads the local cursor position for the geometry extension.
package cursor

import (
	"errors"
	"sync"

	"dcvext/message"
)

var ErrUnsupported = errors.New("reading the cursor position is not supported on this platform")

// Source reports where the local cursor is.
type Source interface {
	Position() (message.Point, error)
}

// System returns the cursor source of the operating system.
func System() Source {
	return systemSource{}
}

// Scripted replays a fixed list of positions, cycling when it reaches the
// end. It stands in for the OS cursor in tests and in the host simulator.
type Scripted struct {
	mu     sync.Mutex
	points []message.Point
	next   int
}

func NewScripted(points ...message.Point) *Scripted {
	return &Scripted{points: points}
}

func (s *Scripted) Position() (message.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.points) == 0 {
		return message.Point{}, errors.New("scripted cursor has no positions")
	}
	p := s.points[s.next]
	s.next = (s.next + 1) % len(s.points)
	return p, nil
}
