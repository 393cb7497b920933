package message

import "slices"

// Point is a position in the local desktop coordinate space.
type Point struct {
	X, Y int32
}

// Rect is an axis-aligned rectangle with its origin at the top-left corner.
type Rect struct {
	X, Y          int32
	Width, Height int32
}

// Contains reports whether p lies inside r. The right and bottom edges are
// exclusive.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width &&
		p.Y >= r.Y && p.Y < r.Y+r.Height
}

// StreamingView is a local window region showing part of the remote desktop.
type StreamingView struct {
	ViewID       int32
	LocalArea    Rect
	ZoomFactor   float64
	RemoteOffset Point
	HasFocus     bool
}

// ToRemote maps a local point inside the view to remote desktop coordinates.
func (v StreamingView) ToRemote(p Point) Point {
	zoom := v.ZoomFactor
	if zoom == 0 {
		zoom = 1
	}
	return Point{
		X: v.RemoteOffset.X + int32(float64(p.X-v.LocalArea.X)/zoom),
		Y: v.RemoteOffset.Y + int32(float64(p.Y-v.LocalArea.Y)/zoom),
	}
}

// StreamingViews is a snapshot of every streaming view. Snapshots are
// replaced wholesale, never patched.
type StreamingViews struct {
	Views []StreamingView
	// HasFocus reports whether the DCV client owns the keyboard focus.
	HasFocus bool
}

// View returns the view with the given id.
func (s StreamingViews) View(id int32) (StreamingView, bool) {
	for _, v := range s.Views {
		if v.ViewID == id {
			return v, true
		}
	}
	return StreamingView{}, false
}

// ViewAt returns the first view whose local area contains p.
func (s StreamingViews) ViewAt(p Point) (StreamingView, bool) {
	for _, v := range s.Views {
		if v.LocalArea.Contains(p) {
			return v, true
		}
	}
	return StreamingView{}, false
}

// Clone returns a deep copy of s.
func (s StreamingViews) Clone() StreamingViews {
	return StreamingViews{Views: slices.Clone(s.Views), HasFocus: s.HasFocus}
}
