//go:build !windows

package cursor

import "dcvext/message"

type systemSource struct{}

func (systemSource) Position() (message.Point, error) {
	return message.Point{}, ErrUnsupported
}
