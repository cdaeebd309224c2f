package codec

import (
	"encoding"
	"errors"
)

// BinaryCodec delegates to the value's own binary marshalling. Apps that lock
// in a compact wire shape implement encoding.BinaryMarshaler/Unmarshaler on
// their body types and select this codec.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("BinaryCodec: v must implement encoding.BinaryMarshaler")
	}
	return m.MarshalBinary()
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	u, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return errors.New("BinaryCodec: v must implement encoding.BinaryUnmarshaler")
	}
	return u.UnmarshalBinary(data)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
