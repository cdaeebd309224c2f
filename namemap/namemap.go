// Package namemap reads the on-chain name registry that maps hierarchical
// node names to token-bound accounts, owners, and note data.
//
// Entries are addressed by namehash: labels of a dot-separated path, hashed
// leaf-last into a chain of keccak256 digests. The registry lives on
// Optimism; reads go through an eth provider via eth_call and eth_getLogs.
package namemap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"proclink/eth"
)

// Registry deployment on Optimism.
const (
	ContractAddress = "0x7290Aa297818d0b9660B2871Bb87f85a3f9B4559"
	ChainID         = 10
	FirstBlock      = 114923786
	// RootHash is the empty bytes32, the hash of the registry root.
	RootHash = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

var (
	ErrInvalidHash       = errors.New("namemap: entry hash is not 32 hex bytes")
	ErrMalformedResponse = errors.New("namemap: malformed contract response")
)

// Caller is the slice of the eth provider the registry needs. Tests inject
// fakes; production passes *eth.Provider.
type Caller interface {
	Call(ctx context.Context, method string, params, result interface{}, opts ...eth.CallOption) error
}

// Entry is one resolved registry entry.
type Entry struct {
	// TokenBoundAccount is the 0x-prefixed account bound to the entry.
	TokenBoundAccount string
	// Owner is the 0x-prefixed owner of the entry's token.
	Owner string
	// Data holds the note value; nil when the entry is not a note or the
	// note is empty.
	Data []byte
}

// Map reads one registry contract through a provider.
type Map struct {
	caller   Caller
	contract string
}

func New(caller Caller, contract string) *Map {
	return &Map{caller: caller, contract: contract}
}

// Default targets the canonical deployment.
func Default(caller Caller) *Map {
	return New(caller, ContractAddress)
}

// Contract returns the registry contract address in use.
func (m *Map) Contract() string { return m.contract }

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// ValidName reports whether a single label is well-formed: ascii lowercase,
// digits, and hyphens only, non-empty; notes additionally lead with '~'.
// Frontends enforce this before minting, but nothing stops invalid names
// reaching the contract, so every label read from chain goes through here.
func ValidName(name string, note bool) bool {
	if note {
		if len(name) < 2 || name[0] != '~' {
			return false
		}
		name = name[1:]
	}
	if len(name) == 0 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

// Namehash folds a dot-separated path into its entry hash: starting from the
// zero node, each label from root to leaf contributes
// node = keccak256(node || keccak256(label)).
func Namehash(name string) string {
	node := make([]byte, 32)
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		node = keccak(append(node, keccak([]byte(labels[i]))...))
	}
	return "0x" + hex.EncodeToString(node)
}

// Get resolves a path to its token-bound account, owner, and note data.
func (m *Map) Get(ctx context.Context, path string) (Entry, error) {
	return m.GetHash(ctx, Namehash(path))
}

// GetHash resolves an entry by its precomputed hash.
func (m *Map) GetHash(ctx context.Context, entryhash string) (Entry, error) {
	hash, err := decodeHex32(entryhash)
	if err != nil {
		return Entry{}, err
	}

	callData := append(getSelector(), hash...)
	callObj := map[string]string{
		"to":   m.contract,
		"data": "0x" + hex.EncodeToString(callData),
	}

	var raw string
	if err := m.caller.Call(ctx, "eth_call", []interface{}{callObj, "latest"}, &raw); err != nil {
		return Entry{}, err
	}
	return decodeGetReturns(raw)
}

// getSelector is the first four bytes of keccak256("get(bytes32)").
func getSelector() []byte {
	return keccak([]byte("get(bytes32)"))[:4]
}

func decodeHex32(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, ErrInvalidHash
	}
	return b, nil
}

// decodeGetReturns unpacks (address tokenBoundAccount, address tokenOwner,
// bytes data): two address words, a dynamic-bytes offset word, then the
// length-prefixed data itself.
func decodeGetReturns(raw string) (Entry, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(b) < 96 {
		return Entry{}, ErrMalformedResponse
	}

	tba := "0x" + hex.EncodeToString(b[12:32])
	owner := "0x" + hex.EncodeToString(b[44:64])

	offset := wordToInt(b[64:96])
	if offset < 0 || offset+32 > len(b) {
		return Entry{}, ErrMalformedResponse
	}
	length := wordToInt(b[offset : offset+32])
	if length < 0 || offset+32+length > len(b) {
		return Entry{}, ErrMalformedResponse
	}

	entry := Entry{TokenBoundAccount: tba, Owner: owner}
	if length > 0 {
		entry.Data = append([]byte(nil), b[offset+32:offset+32+length]...)
	}
	return entry, nil
}

func wordToInt(word []byte) int {
	// ABI words are 32 bytes; anything beyond the low 8 must be zero for a
	// sane offset or length.
	for _, c := range word[:24] {
		if c != 0 {
			return -1
		}
	}
	n := 0
	for _, c := range word[24:] {
		n = n<<8 | int(c)
	}
	return n
}
