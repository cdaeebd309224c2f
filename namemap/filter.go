package namemap

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// Event signatures of the registry contract.
const (
	mintSignature = "Mint(bytes32,bytes32,bytes,bytes)"
	noteSignature = "Note(bytes32,bytes32,bytes,bytes,bytes)"
)

// MintTopic is topic0 of mint events.
func MintTopic() string { return eventTopic(mintSignature) }

// NoteTopic is topic0 of note events.
func NoteTopic() string { return eventTopic(noteSignature) }

func eventTopic(signature string) string {
	return "0x" + hex.EncodeToString(keccak([]byte(signature)))
}

// Filter is an eth_getLogs filter object. Nil topic positions are
// wildcards, matching the JSON-RPC convention.
type Filter struct {
	Address   string     `json:"address"`
	FromBlock string     `json:"fromBlock,omitempty"`
	ToBlock   string     `json:"toBlock,omitempty"`
	Topics    [][]string `json:"topics,omitempty"`
}

// Log is one eth_getLogs result entry, trimmed to the fields the registry
// decoders need.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
}

// MintFilter matches every mint event on the registry contract from its
// deployment block on.
func (m *Map) MintFilter() Filter {
	return Filter{
		Address:   m.contract,
		FromBlock: fmt.Sprintf("0x%x", FirstBlock),
		Topics:    [][]string{{MintTopic()}},
	}
}

// NoteFilter matches every note event on the registry contract.
func (m *Map) NoteFilter() Filter {
	return Filter{
		Address:   m.contract,
		FromBlock: fmt.Sprintf("0x%x", FirstBlock),
		Topics:    [][]string{{NoteTopic()}},
	}
}

// NotesFilter narrows NoteFilter to specific note labels, hashed into the
// labelhash topic.
func (m *Map) NotesFilter(notes ...string) Filter {
	f := m.NoteFilter()
	hashes := make([]string, len(notes))
	for i, note := range notes {
		hashes[i] = "0x" + hex.EncodeToString(keccak([]byte(note)))
	}
	f.Topics = [][]string{{NoteTopic()}, nil, nil, hashes}
	return f
}

// Logs runs eth_getLogs with the given filter.
func (m *Map) Logs(ctx context.Context, f Filter) ([]Log, error) {
	var logs []Log
	if err := m.caller.Call(ctx, "eth_getLogs", []interface{}{f}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Mint is a decoded mint event.
type Mint struct {
	Name       string
	ParentHash string
	ChildHash  string
}

// Note is a decoded note event.
type Note struct {
	Note       string
	ParentHash string
	NoteHash   string
	Data       []byte
}

// DecodeMint unpacks a mint log. The name travels as the only non-indexed
// field and is validated before it is returned; invalid names can reach the
// contract even though frontends reject them.
func DecodeMint(log Log) (Mint, error) {
	if len(log.Topics) < 3 || log.Topics[0] != MintTopic() {
		return Mint{}, fmt.Errorf("namemap: not a mint log")
	}
	fields, err := decodeDynamicFields(log.Data, 1)
	if err != nil {
		return Mint{}, err
	}
	name := string(fields[0])
	if !ValidName(name, false) {
		return Mint{}, fmt.Errorf("namemap: invalid minted name %q", name)
	}
	return Mint{Name: name, ParentHash: log.Topics[1], ChildHash: log.Topics[2]}, nil
}

// DecodeNote unpacks a note log: the note label and its data are the two
// non-indexed fields.
func DecodeNote(log Log) (Note, error) {
	if len(log.Topics) < 3 || log.Topics[0] != NoteTopic() {
		return Note{}, fmt.Errorf("namemap: not a note log")
	}
	fields, err := decodeDynamicFields(log.Data, 2)
	if err != nil {
		return Note{}, err
	}
	note := string(fields[0])
	if !ValidName(note, true) {
		return Note{}, fmt.Errorf("namemap: invalid note label %q", note)
	}
	return Note{Note: note, ParentHash: log.Topics[1], NoteHash: log.Topics[2], Data: fields[1]}, nil
}

// decodeDynamicFields unpacks n ABI dynamic-bytes fields from 0x-hex event
// data: n offset words up front, each pointing at a length-prefixed payload.
func decodeDynamicFields(data string, n int) ([][]byte, error) {
	b, err := hexBytes(data)
	if err != nil {
		return nil, err
	}
	if len(b) < 32*n {
		return nil, ErrMalformedResponse
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		offset := wordToInt(b[32*i : 32*i+32])
		if offset < 0 || offset+32 > len(b) {
			return nil, ErrMalformedResponse
		}
		length := wordToInt(b[offset : offset+32])
		if length < 0 || offset+32+length > len(b) {
			return nil, ErrMalformedResponse
		}
		out[i] = append([]byte(nil), b[offset+32:offset+32+length]...)
	}
	return out, nil
}
