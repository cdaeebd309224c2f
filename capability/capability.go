// Package capability tracks the capabilities a process currently holds and
// attaches them to outbound messages.
//
// A capability is an unforgeable token: its params blob is signed by the host,
// and the host alone verifies it. This layer is advisory — it caches grants
// pushed by the host so application code can check cheaply before sending,
// but final authority always rests with the host's enforcement.
package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"proclink/address"
)

// Capability authorizes a specific action, scoped by its issuer.
// Params is an opaque signed blob interpreted only by the host.
type Capability struct {
	Issuer address.Address
	Params []byte
}

// Key returns a stable identity for set membership: issuer plus a digest of
// the params blob. Two grants with identical issuer and params are the same
// capability.
func (c Capability) Key() string {
	sum := sha256.Sum256(c.Params)
	return c.Issuer.String() + "#" + hex.EncodeToString(sum[:8])
}

// MissingCapabilityError is returned by Guard.Require when no held capability
// matches the requested pattern.
type MissingCapabilityError struct {
	Pattern address.Address
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("no capability held for %s", e.Pattern)
}

// Attacher is anything capabilities can be attached to — in practice the
// envelope builder.
type Attacher interface {
	AttachCapability(c Capability)
}

// Guard is the per-process granted-capability set. Grants arrive as host
// pushes (see the process dispatch loop); reads are cheap and concurrent.
type Guard struct {
	mu   sync.RWMutex
	held map[string]Capability
}

// NewGuard creates an empty guard. Tests construct independent guards with
// synthetic grants; the process loop feeds the real one from host pushes.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]Capability)}
}

// Grant records capabilities pushed by the host. Granting the same capability
// twice is a no-op.
func (g *Guard) Grant(caps ...Capability) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range caps {
		g.held[c.Key()] = c
	}
}

// Revoke drops a capability from the local cache.
func (g *Guard) Revoke(c Capability) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, c.Key())
}

// Has reports whether any held capability's issuer matches the pattern.
// The pattern may use address wildcards.
func (g *Guard) Has(pattern address.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.held {
		if c.Issuer.Matches(pattern) {
			return true
		}
	}
	return false
}

// Require is Has as a checked precondition.
func (g *Guard) Require(pattern address.Address) error {
	if !g.Has(pattern) {
		return &MissingCapabilityError{Pattern: pattern}
	}
	return nil
}

// Held returns a snapshot of the granted set.
func (g *Guard) Held() []Capability {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Capability, 0, len(g.held))
	for _, c := range g.held {
		out = append(out, c)
	}
	return out
}

// Attach copies a capability onto the target builder. Attaching a capability
// the process does not (yet) hold is allowed — the host is the authority.
func (g *Guard) Attach(target Attacher, c Capability) {
	target.AttachCapability(c)
}

// AttachMatching attaches every held capability whose issuer matches the
// pattern. Returns the number attached.
func (g *Guard) AttachMatching(target Attacher, pattern address.Address) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, c := range g.held {
		if c.Issuer.Matches(pattern) {
			target.AttachCapability(c)
			n++
		}
	}
	return n
}
