// Package protocol implements the binary frame in which envelopes cross the
// host boundary.
//
// The host's raw send/receive primitive moves opaque byte slices; this frame
// is the agreed shape. A fixed 22-byte header is followed by a variable-length
// section holding the envelope fields. The receiver reads the header first to
// learn the section length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6        10               18        22
//	┌──────┬──┬──┬──┬────────┬────────────────┬─────────┬──────────────────┐
//	│magic │v │k │fl│ epoch  │      seq       │ bodyLen │  section ...      │
//	│ plk  │01│  │  │ uint32 │     uint64     │ uint32  │  bodyLen bytes    │
//	└──────┴──┴──┴──┴────────┴────────────────┴─────────┴──────────────────┘
//
// epoch+seq together form the correlation identity; carrying the epoch on the
// wire is what keeps post-restart counters from colliding with stale replies.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"proclink/address"
	"proclink/capability"
	"proclink/message"
)

// Magic number bytes: "plk". Used to quickly reject non-protocol frames.
const (
	MagicNumber byte = 0x70 // 'p'
	MagicByte2  byte = 0x6c // 'l'
	MagicByte3  byte = 0x6b // 'k'
	Version     byte = 0x01
	HeaderSize  int  = 22 // 3 (magic) + 1 (version) + 1 (kind) + 1 (flags) + 4 (epoch) + 8 (seq) + 4 (bodyLen)
)

// Flag bits in the header's flags byte.
const (
	flagExpectsResponse byte = 1 << 0
	flagInheritContext  byte = 1 << 1
	flagHasBlob         byte = 1 << 2
	flagHasContext      byte = 1 << 3
)

// Encode writes a complete frame (header + section) for the envelope to w.
// The caller must serialize writes if multiple goroutines share the writer.
func Encode(w io.Writer, env *message.Envelope) error {
	section, err := encodeSection(env)
	if err != nil {
		return err
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(env.Kind)
	buf[5] = flags(env)
	binary.BigEndian.PutUint32(buf[6:10], env.Correlation.Epoch)
	binary.BigEndian.PutUint64(buf[10:18], env.Correlation.Seq)
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(section)))

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(section); err != nil {
		return err
	}
	return nil
}

// Decode reads one complete frame from r and reconstructs the envelope.
// It validates the magic number, version, and kind. io.ReadFull guarantees
// exactly N bytes, preventing partial reads.
func Decode(r io.Reader) (*message.Envelope, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	kind := message.Kind(headerBuf[4])
	if kind != message.KindRequest && kind != message.KindResponse && kind != message.KindGrant {
		return nil, fmt.Errorf("unsupported message kind: %d", headerBuf[4])
	}

	fl := headerBuf[5]
	bodyLen := binary.BigEndian.Uint32(headerBuf[18:22])

	section := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, section); err != nil {
		return nil, err
	}

	env := &message.Envelope{
		Kind: kind,
		Correlation: message.ID{
			Epoch: binary.BigEndian.Uint32(headerBuf[6:10]),
			Seq:   binary.BigEndian.Uint64(headerBuf[10:18]),
		},
		ExpectsResponse: fl&flagExpectsResponse != 0,
		InheritContext:  fl&flagInheritContext != 0,
	}
	if err := decodeSection(section, fl, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Marshal frames the envelope into a byte slice, the form the host's raw
// send primitive takes.
func Marshal(env *message.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal reconstructs an envelope from a frame delivered by the host.
func Unmarshal(frame []byte) (*message.Envelope, error) {
	return Decode(bytes.NewReader(frame))
}

func flags(env *message.Envelope) byte {
	var fl byte
	if env.ExpectsResponse {
		fl |= flagExpectsResponse
	}
	if env.InheritContext {
		fl |= flagInheritContext
	}
	if env.Blob != nil {
		fl |= flagHasBlob
	}
	if env.Context != nil {
		fl |= flagHasContext
	}
	return fl
}

// encodeSection lays out the variable fields:
//
//	source string16, target string16, timeoutMs uint32,
//	capCount uint16, caps (issuer string16 + params bytes32)...,
//	[context bytes32], body bytes32, [blob mime string16 + bytes32]
func encodeSection(env *message.Envelope) ([]byte, error) {
	var buf bytes.Buffer

	if err := writeString16(&buf, env.Source.String()); err != nil {
		return nil, err
	}
	if err := writeString16(&buf, env.Target.String()); err != nil {
		return nil, err
	}

	ms := env.Timeout.Milliseconds()
	if ms < 0 || ms > math.MaxUint32 {
		return nil, fmt.Errorf("timeout out of range: %v", env.Timeout)
	}
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(ms))
	buf.Write(u32[:])

	if len(env.Capabilities) > math.MaxUint16 {
		return nil, fmt.Errorf("too many capabilities: %d", len(env.Capabilities))
	}
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(env.Capabilities)))
	buf.Write(u16[:])
	for _, c := range env.Capabilities {
		if err := writeString16(&buf, c.Issuer.String()); err != nil {
			return nil, err
		}
		writeBytes32(&buf, c.Params)
	}

	if env.Context != nil {
		writeBytes32(&buf, env.Context)
	}
	writeBytes32(&buf, env.Body)
	if env.Blob != nil {
		if err := writeString16(&buf, env.Blob.MIME); err != nil {
			return nil, err
		}
		writeBytes32(&buf, env.Blob.Bytes)
	}

	return buf.Bytes(), nil
}

func decodeSection(section []byte, fl byte, env *message.Envelope) error {
	r := bytes.NewReader(section)

	sourceText, err := readString16(r)
	if err != nil {
		return err
	}
	targetText, err := readString16(r)
	if err != nil {
		return err
	}
	if env.Source, err = address.Parse(sourceText); err != nil {
		return err
	}
	if env.Target, err = address.Parse(targetText); err != nil {
		return err
	}

	var timeoutMs uint32
	if err := binary.Read(r, binary.BigEndian, &timeoutMs); err != nil {
		return err
	}
	env.Timeout = time.Duration(timeoutMs) * time.Millisecond

	var capCount uint16
	if err := binary.Read(r, binary.BigEndian, &capCount); err != nil {
		return err
	}
	for i := 0; i < int(capCount); i++ {
		issuerText, err := readString16(r)
		if err != nil {
			return err
		}
		issuer, err := address.Parse(issuerText)
		if err != nil {
			return err
		}
		params, err := readBytes32(r)
		if err != nil {
			return err
		}
		env.Capabilities = append(env.Capabilities, capability.Capability{Issuer: issuer, Params: params})
	}

	if fl&flagHasContext != 0 {
		if env.Context, err = readBytes32(r); err != nil {
			return err
		}
	}
	if env.Body, err = readBytes32(r); err != nil {
		return err
	}
	if fl&flagHasBlob != 0 {
		mime, err := readString16(r)
		if err != nil {
			return err
		}
		data, err := readBytes32(r)
		if err != nil {
			return err
		}
		env.Blob = &message.Blob{MIME: mime, Bytes: data}
	}

	if r.Len() != 0 {
		return fmt.Errorf("trailing bytes in frame section: %d", r.Len())
	}
	return nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string too long for frame: %d bytes", len(s))
	}
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(s)))
	buf.Write(u16[:])
	buf.WriteString(s)
	return nil
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes32(buf *bytes.Buffer, b []byte) {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(b)))
	buf.Write(u32[:])
	buf.Write(b)
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
