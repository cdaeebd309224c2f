package codec

import (
	"encoding/binary"
	"errors"
	"testing"
)

type pingBody struct {
	Method string `json:"method"`
	N      uint32 `json:"n"`
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	original := &pingBody{Method: "ping", N: 7}

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded pingBody
	err = jsonCodec.Decode(data, &decoded)
	if err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}

	if decoded != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, *original)
	}
}

// counterBody locks in a fixed 4-byte wire shape.
type counterBody struct {
	N uint32
}

func (b *counterBody) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, b.N)
	return buf, nil
}

func (b *counterBody) UnmarshalBinary(data []byte) error {
	if len(data) != 4 {
		return errors.New("counterBody: want 4 bytes")
	}
	b.N = binary.BigEndian.Uint32(data)
	return nil
}

func TestBinaryCodec(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	original := &counterBody{N: 99}
	data, err := binaryCodec.Encode(original)
	if err != nil {
		t.Fatalf("BinaryCodec Encode failed: %v", err)
	}

	var decoded counterBody
	err = binaryCodec.Decode(data, &decoded)
	if err != nil {
		t.Fatalf("BinaryCodec Decode failed: %v", err)
	}

	if decoded.N != original.N {
		t.Errorf("round trip mismatch: got %d, want %d", decoded.N, original.N)
	}
}

func TestBinaryCodecRejectsPlainStruct(t *testing.T) {
	binaryCodec := &BinaryCodec{}
	_, err := binaryCodec.Encode(&pingBody{})
	if err == nil {
		t.Fatal("expected error for type without BinaryMarshaler")
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Fatal("GetCodec(JSON) returned wrong type")
	}
	if GetCodec(CodecTypeBinary).Type() != CodecTypeBinary {
		t.Fatal("GetCodec(Binary) returned wrong type")
	}
}
