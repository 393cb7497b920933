// Package message defines the messages exchanged between a DCV extension and
// its host.
//
// The extension sends Requests. The host answers each Request with exactly one
// Response carrying the same request id, and emits Events at any time. The
// codec package turns these values into their protobuf wire form.
package message

import "fmt"

// RequestKind enumerates the requests an extension can issue. The set is
// closed: the host answers each kind with the response of the same kind.
type RequestKind int

const (
	KindUnknown RequestKind = iota
	GetManifest
	GetDcvInfo
	SetupVirtualChannel
	CloseVirtualChannel
	SetCursorPoint
	GetStreamingViews
	IsPointInsideStreamingViews
)

var requestKindNames = [...]string{
	KindUnknown:                 "Unknown",
	GetManifest:                 "GetManifest",
	GetDcvInfo:                  "GetDcvInfo",
	SetupVirtualChannel:         "SetupVirtualChannel",
	CloseVirtualChannel:         "CloseVirtualChannel",
	SetCursorPoint:              "SetCursorPoint",
	GetStreamingViews:           "GetStreamingViews",
	IsPointInsideStreamingViews: "IsPointInsideStreamingViews",
}

func (k RequestKind) String() string {
	if k >= 0 && int(k) < len(requestKindNames) {
		return requestKindNames[k]
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// RequestKinds returns every known request kind.
func RequestKinds() []RequestKind {
	return []RequestKind{
		GetManifest,
		GetDcvInfo,
		SetupVirtualChannel,
		CloseVirtualChannel,
		SetCursorPoint,
		GetStreamingViews,
		IsPointInsideStreamingViews,
	}
}

// Status is the outcome the host reports for a request. Only SUCCESS == 1 is
// known from DCV; the other values are assumed.
type Status int32

const (
	StatusUnknown Status = 0
	StatusSuccess Status = 1
	StatusError   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// DcvRole tells whether the extension runs next to a DCV server or client.
type DcvRole int32

const (
	RoleUnknown DcvRole = 0
	RoleServer  DcvRole = 1
	RoleClient  DcvRole = 2
)

func (r DcvRole) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// ParseDcvRole is the inverse of DcvRole.String.
func ParseDcvRole(s string) (DcvRole, error) {
	switch s {
	case "server":
		return RoleServer, nil
	case "client":
		return RoleClient, nil
	case "", "unknown":
		return RoleUnknown, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown DCV role %q", s)
	}
}

// DcvInfo describes the DCV process hosting the extension.
type DcvInfo struct {
	Role DcvRole
}

// VirtualChannel is the host's answer to SetupVirtualChannel: where to
// connect the data plane and the token to present once connected.
type VirtualChannel struct {
	Name      string
	RelayPath string
	AuthToken []byte
}

// Request is a single call from the extension to the host. Only the fields
// relevant to Kind are encoded.
type Request struct {
	ID   string
	Kind RequestKind

	// SetupVirtualChannel, CloseVirtualChannel
	VirtualChannelName string
	// SetupVirtualChannel
	RelayClientProcessID int64
	// SetCursorPoint, IsPointInsideStreamingViews
	Point Point
}

// Response answers the Request with the same ID. Kind is KindUnknown when the
// response carried no body or a body this version does not recognize.
type Response struct {
	RequestID string
	Status    Status
	Kind      RequestKind

	ManifestPath   string         // GetManifest
	DcvInfo        DcvInfo        // GetDcvInfo
	VirtualChannel VirtualChannel // SetupVirtualChannel; CloseVirtualChannel sets only Name
	StreamingViews StreamingViews // GetStreamingViews
	ViewID         int32          // IsPointInsideStreamingViews, negative when outside every view
}

// Success reports whether the host accepted the request.
func (r *Response) Success() bool {
	return r.Status == StatusSuccess
}

// EventKind enumerates the unsolicited notifications the host sends.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventVirtualChannelReady
	EventVirtualChannelClosed
	EventStreamingViewsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventVirtualChannelReady:
		return "VirtualChannelReady"
	case EventVirtualChannelClosed:
		return "VirtualChannelClosed"
	case EventStreamingViewsChanged:
		return "StreamingViewsChanged"
	default:
		return "Unknown"
	}
}

// Event is an unsolicited host notification. It carries no request id.
type Event struct {
	Kind               EventKind
	VirtualChannelName string         // VirtualChannelReady, VirtualChannelClosed
	StreamingViews     StreamingViews // StreamingViewsChanged
}

// EnvelopeType classifies a decoded host message.
type EnvelopeType int

const (
	// EnvelopeUnrecognized is a message this version cannot interpret. It is
	// ignored, never treated as an error.
	EnvelopeUnrecognized EnvelopeType = iota
	EnvelopeResponse
	EnvelopeEvent
)

// Envelope is one decoded frame from the host.
type Envelope struct {
	Type     EnvelopeType
	Response *Response
	Event    *Event
}

// ResponseEnvelope wraps r.
func ResponseEnvelope(r *Response) *Envelope {
	return &Envelope{Type: EnvelopeResponse, Response: r}
}

// EventEnvelope wraps e.
func EventEnvelope(e *Event) *Envelope {
	return &Envelope{Type: EnvelopeEvent, Event: e}
}
