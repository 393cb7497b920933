package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"dcvext/message"
)

// Scalar fields follow proto3 rules: zero values are omitted. Oneof members
// are always written, even when empty, because their presence selects the case.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendInt32 sign-extends negative values to 64 bits, as protobuf int32 does.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func encodePoint(p message.Point) []byte {
	var b []byte
	b = appendInt32(b, fieldPointX, p.X)
	b = appendInt32(b, fieldPointY, p.Y)
	return b
}

func encodeRect(r message.Rect) []byte {
	var b []byte
	b = appendInt32(b, fieldRectX, r.X)
	b = appendInt32(b, fieldRectY, r.Y)
	b = appendInt32(b, fieldRectWidth, r.Width)
	b = appendInt32(b, fieldRectHeight, r.Height)
	return b
}

func encodeStreamingViews(views message.StreamingViews) []byte {
	var b []byte
	for _, v := range views.Views {
		var vb []byte
		vb = appendInt32(vb, fieldViewID, v.ViewID)
		vb = appendMessage(vb, fieldViewLocalArea, encodeRect(v.LocalArea))
		vb = appendDouble(vb, fieldViewZoomFactor, v.ZoomFactor)
		vb = appendMessage(vb, fieldViewRemoteOffset, encodePoint(v.RemoteOffset))
		vb = appendBool(vb, fieldViewHasFocus, v.HasFocus)
		b = appendMessage(b, fieldStreamingView, vb)
	}
	b = appendBool(b, fieldStreamingViewsHasFocus, views.HasFocus)
	return b
}

// EncodeRequest serializes req as an ExtensionMessage.
func EncodeRequest(req *message.Request) ([]byte, error) {
	var body []byte
	var num protowire.Number

	switch req.Kind {
	case message.GetManifest:
		num = fieldGetManifestRequest
	case message.GetDcvInfo:
		num = fieldGetDcvInfoRequest
	case message.SetupVirtualChannel:
		num = fieldSetupVirtualChannelRequest
		body = appendString(body, fieldVirtualChannelName, req.VirtualChannelName)
		body = appendInt64(body, fieldRelayClientProcessID, req.RelayClientProcessID)
	case message.CloseVirtualChannel:
		num = fieldCloseVirtualChannelRequest
		body = appendString(body, fieldVirtualChannelName, req.VirtualChannelName)
	case message.SetCursorPoint:
		num = fieldSetCursorPointRequest
		body = appendMessage(body, fieldPoint, encodePoint(req.Point))
	case message.GetStreamingViews:
		num = fieldGetStreamingViewsRequest
	case message.IsPointInsideStreamingViews:
		num = fieldIsPointInsideStreamingViewsRequest
		body = appendMessage(body, fieldPoint, encodePoint(req.Point))
	default:
		return nil, fmt.Errorf("encode request: unsupported kind %s", req.Kind)
	}

	var request []byte
	request = appendString(request, fieldRequestID, req.ID)
	request = appendMessage(request, num, body)

	return appendMessage(nil, fieldExtensionRequest, request), nil
}

// EncodeEnvelope serializes env as a DcvMessage. This is the host side of
// the protocol.
func EncodeEnvelope(env *message.Envelope) ([]byte, error) {
	switch env.Type {
	case message.EnvelopeResponse:
		if env.Response == nil {
			return nil, fmt.Errorf("encode envelope: response envelope without response")
		}
		resp, err := encodeResponse(env.Response)
		if err != nil {
			return nil, err
		}
		return appendMessage(nil, fieldDcvResponse, resp), nil
	case message.EnvelopeEvent:
		if env.Event == nil {
			return nil, fmt.Errorf("encode envelope: event envelope without event")
		}
		ev, err := encodeEvent(env.Event)
		if err != nil {
			return nil, err
		}
		return appendMessage(nil, fieldDcvEvent, ev), nil
	default:
		return nil, fmt.Errorf("encode envelope: unsupported envelope type %d", env.Type)
	}
}

func encodeResponse(resp *message.Response) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldResponseRequestID, resp.RequestID)
	b = appendInt32(b, fieldResponseStatus, int32(resp.Status))

	var body []byte
	switch resp.Kind {
	case message.KindUnknown:
		// A status-only response, e.g. the host rejecting a request it does
		// not understand.
		return b, nil
	case message.GetManifest:
		body = appendString(body, fieldManifestPath, resp.ManifestPath)
		return appendMessage(b, fieldGetManifestResponse, body), nil
	case message.GetDcvInfo:
		body = appendInt32(body, fieldDcvRole, int32(resp.DcvInfo.Role))
		return appendMessage(b, fieldGetDcvInfoResponse, body), nil
	case message.SetupVirtualChannel:
		body = appendString(body, fieldVirtualChannelName, resp.VirtualChannel.Name)
		body = appendString(body, fieldRelayPath, resp.VirtualChannel.RelayPath)
		body = appendBytes(body, fieldVirtualChannelAuthToken, resp.VirtualChannel.AuthToken)
		return appendMessage(b, fieldSetupVirtualChannelResponse, body), nil
	case message.CloseVirtualChannel:
		body = appendString(body, fieldVirtualChannelName, resp.VirtualChannel.Name)
		return appendMessage(b, fieldCloseVirtualChannelResponse, body), nil
	case message.SetCursorPoint:
		return appendMessage(b, fieldSetCursorPointResponse, nil), nil
	case message.GetStreamingViews:
		body = appendMessage(body, fieldStreamingViews, encodeStreamingViews(resp.StreamingViews))
		return appendMessage(b, fieldGetStreamingViewsResponse, body), nil
	case message.IsPointInsideStreamingViews:
		body = appendInt32(body, fieldViewIDResult, resp.ViewID)
		return appendMessage(b, fieldIsPointInsideStreamingViewsResponse, body), nil
	default:
		return nil, fmt.Errorf("encode response: unsupported kind %s", resp.Kind)
	}
}

func encodeEvent(ev *message.Event) ([]byte, error) {
	var body []byte
	switch ev.Kind {
	case message.EventVirtualChannelReady:
		body = appendString(body, fieldVirtualChannelName, ev.VirtualChannelName)
		return appendMessage(nil, fieldVirtualChannelReadyEvent, body), nil
	case message.EventVirtualChannelClosed:
		body = appendString(body, fieldVirtualChannelName, ev.VirtualChannelName)
		return appendMessage(nil, fieldVirtualChannelClosedEvent, body), nil
	case message.EventStreamingViewsChanged:
		body = appendMessage(body, fieldStreamingViews, encodeStreamingViews(ev.StreamingViews))
		return appendMessage(nil, fieldStreamingViewsChangedEvent, body), nil
	default:
		return nil, fmt.Errorf("encode event: unsupported kind %s", ev.Kind)
	}
}
