// Package codec serializes messages to and from the protobuf encoding used
// inside protocol frames.
//
// The extension side encodes *message.Request values as ExtensionMessage and
// decodes DcvMessage into *message.Envelope. The host side does the reverse.
// Encoding is done field by field with protowire, so no generated code is
// involved and unknown fields are skipped for forward compatibility.
package codec

import (
	"fmt"

	"dcvext/message"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// ProtoCodec encodes *message.Request and *message.Envelope values.
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *message.Request:
		return EncodeRequest(m)
	case *message.Envelope:
		return EncodeEnvelope(m)
	default:
		return nil, fmt.Errorf("ProtoCodec: cannot encode %T", v)
	}
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *message.Request:
		req, err := DecodeRequest(data)
		if err != nil {
			return err
		}
		*m = *req
	case *message.Envelope:
		env, err := DecodeEnvelope(data)
		if err != nil {
			return err
		}
		*m = *env
	default:
		return fmt.Errorf("ProtoCodec: cannot decode into %T", v)
	}
	return nil
}

func (c *ProtoCodec) Name() string {
	return "proto"
}

// Default is the codec used when none is configured.
func Default() Codec {
	return &ProtoCodec{}
}
