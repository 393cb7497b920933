package client

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator allocates request ids. Ids must be unique among outstanding
// requests for the lifetime of a session.
type IDGenerator interface {
	Next() string
}

// CounterIDs yields "1", "2", "3", ... It is safe for concurrent use and is
// never reset.
type CounterIDs struct {
	n atomic.Uint64
}

func (c *CounterIDs) Next() string {
	return strconv.FormatUint(c.n.Add(1), 10)
}

// UUIDIDs yields random version 4 UUIDs.
type UUIDIDs struct{}

func (UUIDIDs) Next() string {
	return uuid.NewString()
}

// NewIDGenerator returns the generator named by kind: "counter" or "uuid".
func NewIDGenerator(kind string) (IDGenerator, error) {
	switch kind {
	case "", "counter":
		return &CounterIDs{}, nil
	case "uuid":
		return UUIDIDs{}, nil
	default:
		return nil, fmt.Errorf("unknown request id generator %q", kind)
	}
}
