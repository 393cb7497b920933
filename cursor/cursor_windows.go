package cursor

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"dcvext/message"
)

var (
	user32           = windows.NewLazySystemDLL("user32.dll")
	procGetCursorPos = user32.NewProc("GetCursorPos")
)

// point mirrors the Win32 POINT structure.
type point struct {
	X, Y int32
}

type systemSource struct{}

func (systemSource) Position() (message.Point, error) {
	if err := procGetCursorPos.Find(); err != nil {
		return message.Point{}, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	var pt point
	r, _, err := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt)))
	if r == 0 {
		return message.Point{}, fmt.Errorf("GetCursorPos: %w", err)
	}
	return message.Point{X: pt.X, Y: pt.Y}, nil
}
