package codec

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers of the dcv.extensions protobuf schema. Every oneof member is
// listed with the number of its enclosing message field.
//
// These numbers, and the Status and DcvRole values in package message, are
// inferred from the names generated for extensions.proto, not read from the
// .proto itself. Check them against the extensions.proto shipped with DCV
// before relying on interop with a real host.

// ExtensionMessage (extension -> host)
const (
	fieldExtensionRequest protowire.Number = 1
)

// DcvMessage (host -> extension)
const (
	fieldDcvResponse protowire.Number = 1
	fieldDcvEvent    protowire.Number = 2
)

// Request
const (
	fieldRequestID                          protowire.Number = 1
	fieldGetManifestRequest                 protowire.Number = 2
	fieldSetupVirtualChannelRequest         protowire.Number = 3
	fieldCloseVirtualChannelRequest         protowire.Number = 4
	fieldGetDcvInfoRequest                  protowire.Number = 5
	fieldSetCursorPointRequest              protowire.Number = 6
	fieldGetStreamingViewsRequest           protowire.Number = 7
	fieldIsPointInsideStreamingViewsRequest protowire.Number = 8
)

// Response
const (
	fieldResponseRequestID                   protowire.Number = 1
	fieldResponseStatus                      protowire.Number = 2
	fieldGetManifestResponse                 protowire.Number = 3
	fieldSetupVirtualChannelResponse         protowire.Number = 4
	fieldCloseVirtualChannelResponse         protowire.Number = 5
	fieldGetDcvInfoResponse                  protowire.Number = 6
	fieldSetCursorPointResponse              protowire.Number = 7
	fieldGetStreamingViewsResponse           protowire.Number = 8
	fieldIsPointInsideStreamingViewsResponse protowire.Number = 9
)

// Event
const (
	fieldVirtualChannelReadyEvent   protowire.Number = 1
	fieldVirtualChannelClosedEvent  protowire.Number = 2
	fieldStreamingViewsChangedEvent protowire.Number = 3
)

// Request and response bodies
const (
	fieldVirtualChannelName      protowire.Number = 1 // Setup/Close request+response, Ready/Closed event
	fieldRelayClientProcessID    protowire.Number = 2 // SetupVirtualChannelRequest
	fieldRelayPath               protowire.Number = 2 // SetupVirtualChannelResponse
	fieldVirtualChannelAuthToken protowire.Number = 3 // SetupVirtualChannelResponse
	fieldManifestPath            protowire.Number = 1 // GetManifestResponse
	fieldDcvRole                 protowire.Number = 1 // GetDcvInfoResponse
	fieldPoint                   protowire.Number = 1 // SetCursorPoint / IsPointInside request
	fieldViewIDResult            protowire.Number = 1 // IsPointInsideStreamingViewsResponse
	fieldStreamingViews          protowire.Number = 1 // GetStreamingViewsResponse, StreamingViewsChangedEvent
)

// Point
const (
	fieldPointX protowire.Number = 1
	fieldPointY protowire.Number = 2
)

// Rect
const (
	fieldRectX      protowire.Number = 1
	fieldRectY      protowire.Number = 2
	fieldRectWidth  protowire.Number = 3
	fieldRectHeight protowire.Number = 4
)

// StreamingView
const (
	fieldViewID           protowire.Number = 1
	fieldViewLocalArea    protowire.Number = 2
	fieldViewZoomFactor   protowire.Number = 3
	fieldViewRemoteOffset protowire.Number = 4
	fieldViewHasFocus     protowire.Number = 5
)

// StreamingViews
const (
	fieldStreamingView          protowire.Number = 1
	fieldStreamingViewsHasFocus protowire.Number = 2
)
