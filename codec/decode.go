package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"dcvext/message"
)

// field is one decoded protobuf field. Only the member matching typ is set.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed64 uint64
	fixed32 uint32
	bytes   []byte
}

func (f field) asInt32() (int32, bool) {
	return int32(f.varint), f.typ == protowire.VarintType
}

func (f field) asMessage() ([]byte, bool) {
	return f.bytes, f.typ == protowire.BytesType
}

func (f field) asString() (string, bool) {
	return string(f.bytes), f.typ == protowire.BytesType
}

func (f field) asDouble() (float64, bool) {
	switch f.typ {
	case protowire.Fixed64Type:
		return math.Float64frombits(f.fixed64), true
	case protowire.Fixed32Type:
		// Tolerate a float-typed field.
		return float64(math.Float32frombits(f.fixed32)), true
	default:
		return 0, false
	}
}

// parseFields calls fn for every field in b. Unknown fields and fields with
// an unexpected wire type are left to fn to ignore.
func parseFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// singleString extracts one string field from a message body.
func singleString(b []byte, num protowire.Number) (string, error) {
	var s string
	err := parseFields(b, func(f field) error {
		if f.num == num {
			if v, ok := f.asString(); ok {
				s = v
			}
		}
		return nil
	})
	return s, err
}

// singleInt32 extracts one int32 field from a message body.
func singleInt32(b []byte, num protowire.Number) (int32, error) {
	var v int32
	err := parseFields(b, func(f field) error {
		if f.num == num {
			if x, ok := f.asInt32(); ok {
				v = x
			}
		}
		return nil
	})
	return v, err
}

func decodePoint(b []byte) (message.Point, error) {
	var p message.Point
	err := parseFields(b, func(f field) error {
		v, ok := f.asInt32()
		if !ok {
			return nil
		}
		switch f.num {
		case fieldPointX:
			p.X = v
		case fieldPointY:
			p.Y = v
		}
		return nil
	})
	return p, err
}

func decodeRect(b []byte) (message.Rect, error) {
	var r message.Rect
	err := parseFields(b, func(f field) error {
		v, ok := f.asInt32()
		if !ok {
			return nil
		}
		switch f.num {
		case fieldRectX:
			r.X = v
		case fieldRectY:
			r.Y = v
		case fieldRectWidth:
			r.Width = v
		case fieldRectHeight:
			r.Height = v
		}
		return nil
	})
	return r, err
}

func decodeStreamingView(b []byte) (message.StreamingView, error) {
	var view message.StreamingView
	err := parseFields(b, func(f field) error {
		var err error
		switch f.num {
		case fieldViewID:
			if v, ok := f.asInt32(); ok {
				view.ViewID = v
			}
		case fieldViewLocalArea:
			if m, ok := f.asMessage(); ok {
				view.LocalArea, err = decodeRect(m)
			}
		case fieldViewZoomFactor:
			if v, ok := f.asDouble(); ok {
				view.ZoomFactor = v
			}
		case fieldViewRemoteOffset:
			if m, ok := f.asMessage(); ok {
				view.RemoteOffset, err = decodePoint(m)
			}
		case fieldViewHasFocus:
			if f.typ == protowire.VarintType {
				view.HasFocus = protowire.DecodeBool(f.varint)
			}
		}
		return err
	})
	return view, err
}

func decodeStreamingViews(b []byte) (message.StreamingViews, error) {
	var views message.StreamingViews
	err := parseFields(b, func(f field) error {
		switch f.num {
		case fieldStreamingView:
			m, ok := f.asMessage()
			if !ok {
				return nil
			}
			view, err := decodeStreamingView(m)
			if err != nil {
				return fmt.Errorf("streaming view: %w", err)
			}
			views.Views = append(views.Views, view)
		case fieldStreamingViewsHasFocus:
			if f.typ == protowire.VarintType {
				views.HasFocus = protowire.DecodeBool(f.varint)
			}
		}
		return nil
	})
	return views, err
}

// decodeStreamingViewsHolder decodes a message whose only field is a
// StreamingViews submessage.
func decodeStreamingViewsHolder(b []byte) (message.StreamingViews, error) {
	var views message.StreamingViews
	err := parseFields(b, func(f field) error {
		if f.num != fieldStreamingViews {
			return nil
		}
		m, ok := f.asMessage()
		if !ok {
			return nil
		}
		var err error
		views, err = decodeStreamingViews(m)
		return err
	})
	return views, err
}

// DecodeEnvelope parses a DcvMessage. A message whose case this version does
// not know decodes to an EnvelopeUnrecognized envelope without error.
func DecodeEnvelope(b []byte) (*message.Envelope, error) {
	env := &message.Envelope{Type: message.EnvelopeUnrecognized}
	err := parseFields(b, func(f field) error {
		m, ok := f.asMessage()
		if !ok {
			return nil
		}
		switch f.num {
		case fieldDcvResponse:
			resp, err := decodeResponse(m)
			if err != nil {
				return fmt.Errorf("response: %w", err)
			}
			env.Type, env.Response, env.Event = message.EnvelopeResponse, resp, nil
		case fieldDcvEvent:
			ev, err := decodeEvent(m)
			if err != nil {
				return fmt.Errorf("event: %w", err)
			}
			if ev == nil {
				env.Type, env.Response, env.Event = message.EnvelopeUnrecognized, nil, nil
				return nil
			}
			env.Type, env.Response, env.Event = message.EnvelopeEvent, nil, ev
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode dcv message: %w", err)
	}
	return env, nil
}

func decodeResponse(b []byte) (*message.Response, error) {
	resp := &message.Response{}
	err := parseFields(b, func(f field) error {
		switch f.num {
		case fieldResponseRequestID:
			if s, ok := f.asString(); ok {
				resp.RequestID = s
			}
			return nil
		case fieldResponseStatus:
			if v, ok := f.asInt32(); ok {
				resp.Status = message.Status(v)
			}
			return nil
		}

		body, ok := f.asMessage()
		if !ok {
			return nil
		}
		var err error
		switch f.num {
		case fieldGetManifestResponse:
			resp.Kind = message.GetManifest
			resp.ManifestPath, err = singleString(body, fieldManifestPath)
		case fieldGetDcvInfoResponse:
			resp.Kind = message.GetDcvInfo
			var role int32
			role, err = singleInt32(body, fieldDcvRole)
			resp.DcvInfo.Role = message.DcvRole(role)
		case fieldSetupVirtualChannelResponse:
			resp.Kind = message.SetupVirtualChannel
			err = parseFields(body, func(f field) error {
				switch f.num {
				case fieldVirtualChannelName:
					resp.VirtualChannel.Name, _ = f.asString()
				case fieldRelayPath:
					resp.VirtualChannel.RelayPath, _ = f.asString()
				case fieldVirtualChannelAuthToken:
					if f.typ == protowire.BytesType {
						resp.VirtualChannel.AuthToken = append([]byte(nil), f.bytes...)
					}
				}
				return nil
			})
		case fieldCloseVirtualChannelResponse:
			resp.Kind = message.CloseVirtualChannel
			resp.VirtualChannel.Name, err = singleString(body, fieldVirtualChannelName)
		case fieldSetCursorPointResponse:
			resp.Kind = message.SetCursorPoint
		case fieldGetStreamingViewsResponse:
			resp.Kind = message.GetStreamingViews
			resp.StreamingViews, err = decodeStreamingViewsHolder(body)
		case fieldIsPointInsideStreamingViewsResponse:
			resp.Kind = message.IsPointInsideStreamingViews
			resp.ViewID, err = singleInt32(body, fieldViewIDResult)
		}
		return err
	})
	return resp, err
}

// decodeEvent returns nil for an event case this version does not know.
func decodeEvent(b []byte) (*message.Event, error) {
	var ev *message.Event
	err := parseFields(b, func(f field) error {
		body, ok := f.asMessage()
		if !ok {
			return nil
		}
		var err error
		switch f.num {
		case fieldVirtualChannelReadyEvent:
			ev = &message.Event{Kind: message.EventVirtualChannelReady}
			ev.VirtualChannelName, err = singleString(body, fieldVirtualChannelName)
		case fieldVirtualChannelClosedEvent:
			ev = &message.Event{Kind: message.EventVirtualChannelClosed}
			ev.VirtualChannelName, err = singleString(body, fieldVirtualChannelName)
		case fieldStreamingViewsChangedEvent:
			ev = &message.Event{Kind: message.EventStreamingViewsChanged}
			ev.StreamingViews, err = decodeStreamingViewsHolder(body)
		}
		return err
	})
	return ev, err
}

// DecodeRequest parses an ExtensionMessage. This is the host side of the
// protocol. A request of an unknown kind keeps its ID and has KindUnknown so
// the host can still answer it.
func DecodeRequest(b []byte) (*message.Request, error) {
	req := &message.Request{}
	err := parseFields(b, func(f field) error {
		if f.num != fieldExtensionRequest {
			return nil
		}
		m, ok := f.asMessage()
		if !ok {
			return nil
		}
		return parseFields(m, func(f field) error {
			if f.num == fieldRequestID {
				req.ID, _ = f.asString()
				return nil
			}
			body, ok := f.asMessage()
			if !ok {
				return nil
			}
			var err error
			switch f.num {
			case fieldGetManifestRequest:
				req.Kind = message.GetManifest
			case fieldGetDcvInfoRequest:
				req.Kind = message.GetDcvInfo
			case fieldSetupVirtualChannelRequest:
				req.Kind = message.SetupVirtualChannel
				err = parseFields(body, func(f field) error {
					switch f.num {
					case fieldVirtualChannelName:
						req.VirtualChannelName, _ = f.asString()
					case fieldRelayClientProcessID:
						if f.typ == protowire.VarintType {
							req.RelayClientProcessID = int64(f.varint)
						}
					}
					return nil
				})
			case fieldCloseVirtualChannelRequest:
				req.Kind = message.CloseVirtualChannel
				req.VirtualChannelName, err = singleString(body, fieldVirtualChannelName)
			case fieldSetCursorPointRequest, fieldIsPointInsideStreamingViewsRequest:
				req.Kind = message.SetCursorPoint
				if f.num == fieldIsPointInsideStreamingViewsRequest {
					req.Kind = message.IsPointInsideStreamingViews
				}
				err = parseFields(body, func(f field) error {
					if f.num != fieldPoint {
						return nil
					}
					m, ok := f.asMessage()
					if !ok {
						return nil
					}
					var err error
					req.Point, err = decodePoint(m)
					return err
				})
			case fieldGetStreamingViewsRequest:
				req.Kind = message.GetStreamingViews
			}
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decode extension message: %w", err)
	}
	return req, nil
}
