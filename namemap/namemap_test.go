package namemap

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"proclink/eth"
)

func TestValidName(t *testing.T) {
	cases := []struct {
		name  string
		note  bool
		valid bool
	}{
		{"alice", false, true},
		{"node-42", false, true},
		{"0x", false, false},
		{"Alice", false, false},
		{"", false, false},
		{"has.dot", false, false},
		{"~net-key", true, true},
		{"~9lives", true, true},
		{"net-key", true, false},
		{"~", true, false},
		{"~Caps", true, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.valid, ValidName(tc.name, tc.note), "name %q note %v", tc.name, tc.note)
	}
}

func TestNamehashComposition(t *testing.T) {
	// The hash of "sub.parent" is one more fold over the hash of "parent".
	parent, err := hexBytes(Namehash("parent"))
	require.NoError(t, err)

	want := "0x" + hex.EncodeToString(keccak(append(parent, keccak([]byte("sub"))...)))
	require.Equal(t, want, Namehash("sub.parent"))
}

func TestNamehashSingleLabel(t *testing.T) {
	zero := make([]byte, 32)
	want := "0x" + hex.EncodeToString(keccak(append(zero, keccak([]byte("os"))...)))
	require.Equal(t, want, Namehash("os"))
}

// fakeCaller records the last eth_call and plays back a scripted response.
type fakeCaller struct {
	method string
	params []interface{}
	reply  func(method string, params []interface{}, result interface{}) error
}

func (f *fakeCaller) Call(ctx context.Context, method string, params, result interface{}, opts ...eth.CallOption) error {
	f.method = method
	f.params = params.([]interface{})
	return f.reply(method, f.params, result)
}

func word(b []byte) string {
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return hex.EncodeToString(padded)
}

func addrBytes(fill byte) []byte {
	b := make([]byte, 20)
	for i := range b {
		b[i] = fill
	}
	return b
}

func getReturns(tba, owner []byte, data []byte) string {
	out := word(tba) + word(owner) + word([]byte{0x60}) + word([]byte{byte(len(data))})
	if len(data) > 0 {
		padded := make([]byte, (len(data)+31)/32*32)
		copy(padded, data)
		out += hex.EncodeToString(padded)
	}
	return "0x" + out
}

func TestGetResolvesEntry(t *testing.T) {
	tba, owner := addrBytes(0x11), addrBytes(0x22)
	fc := &fakeCaller{reply: func(method string, params []interface{}, result interface{}) error {
		*result.(*string) = getReturns(tba, owner, []byte("note-value"))
		return nil
	}}

	m := Default(fc)
	entry, err := m.Get(context.Background(), "~net-key.alice.os")
	require.NoError(t, err)
	require.Equal(t, "0x"+hex.EncodeToString(tba), entry.TokenBoundAccount)
	require.Equal(t, "0x"+hex.EncodeToString(owner), entry.Owner)
	require.Equal(t, []byte("note-value"), entry.Data)

	// The call carried the selector and the path's namehash to the
	// canonical contract.
	require.Equal(t, "eth_call", fc.method)
	callObj := fc.params[0].(map[string]string)
	require.Equal(t, ContractAddress, callObj["to"])
	selector := hex.EncodeToString(getSelector())
	require.True(t, strings.HasPrefix(callObj["data"], "0x"+selector))
	require.Contains(t, callObj["data"], strings.TrimPrefix(Namehash("~net-key.alice.os"), "0x"))
}

func TestGetEmptyDataIsNil(t *testing.T) {
	fc := &fakeCaller{reply: func(method string, params []interface{}, result interface{}) error {
		*result.(*string) = getReturns(addrBytes(0x11), addrBytes(0x22), nil)
		return nil
	}}

	entry, err := Default(fc).Get(context.Background(), "alice.os")
	require.NoError(t, err)
	require.Nil(t, entry.Data)
}

func TestGetHashRejectsBadHash(t *testing.T) {
	fc := &fakeCaller{reply: func(string, []interface{}, interface{}) error { return nil }}
	_, err := Default(fc).GetHash(context.Background(), "0x1234")
	require.ErrorIs(t, err, ErrInvalidHash)
}

func TestGetMalformedResponse(t *testing.T) {
	fc := &fakeCaller{reply: func(method string, params []interface{}, result interface{}) error {
		*result.(*string) = "0xdeadbeef"
		return nil
	}}
	_, err := Default(fc).Get(context.Background(), "alice.os")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func eventData(fields ...[]byte) string {
	head := ""
	body := ""
	offset := 32 * len(fields)
	for _, f := range fields {
		head += word([]byte{byte(offset)})
		padded := make([]byte, (len(f)+31)/32*32)
		copy(padded, f)
		body += word([]byte{byte(len(f))}) + hex.EncodeToString(padded)
		offset += 32 + len(padded)
	}
	return "0x" + head + body
}

func TestDecodeMint(t *testing.T) {
	log := Log{
		Topics: []string{MintTopic(), Namehash("os"), Namehash("alice.os"), "0x00"},
		Data:   eventData([]byte("alice")),
	}
	mint, err := DecodeMint(log)
	require.NoError(t, err)
	require.Equal(t, "alice", mint.Name)
	require.Equal(t, Namehash("os"), mint.ParentHash)
	require.Equal(t, Namehash("alice.os"), mint.ChildHash)

	log.Data = eventData([]byte("Not.Valid"))
	_, err = DecodeMint(log)
	require.Error(t, err)
}

func TestDecodeNote(t *testing.T) {
	log := Log{
		Topics: []string{NoteTopic(), Namehash("alice.os"), Namehash("~net-key.alice.os"), "0x00"},
		Data:   eventData([]byte("~net-key"), []byte{0xab, 0xcd}),
	}
	note, err := DecodeNote(log)
	require.NoError(t, err)
	require.Equal(t, "~net-key", note.Note)
	require.Equal(t, []byte{0xab, 0xcd}, note.Data)

	_, err = DecodeNote(Log{Topics: []string{MintTopic(), "0x00", "0x00"}, Data: log.Data})
	require.Error(t, err)
}

func TestNotesFilterTopics(t *testing.T) {
	m := Default(&fakeCaller{reply: func(string, []interface{}, interface{}) error { return nil }})
	f := m.NotesFilter("~net-key", "~routers")
	require.Equal(t, ContractAddress, f.Address)
	require.Len(t, f.Topics, 4)
	require.Equal(t, []string{NoteTopic()}, f.Topics[0])
	require.Nil(t, f.Topics[1])
	require.Len(t, f.Topics[3], 2)
	require.Equal(t, "0x"+hex.EncodeToString(keccak([]byte("~net-key"))), f.Topics[3][0])
}

func TestLogsUsesGetLogs(t *testing.T) {
	fc := &fakeCaller{reply: func(method string, params []interface{}, result interface{}) error {
		*result.(*[]Log) = []Log{{Address: ContractAddress}}
		return nil
	}}
	m := Default(fc)
	logs, err := m.Logs(context.Background(), m.MintFilter())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "eth_getLogs", fc.method)
}
