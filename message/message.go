// Package message defines the envelope exchanged between processes and the
// builders application code uses to construct one.
//
// An Envelope is the unit the host kernel moves: a request or response with a
// correlation identity, opaque body bytes, optional blob, and attached
// capabilities. Requests are mutable only through the Builder; once handed to
// the correlation engine for sending they are treated as immutable.
package message

import (
	"errors"
	"time"

	"proclink/address"
	"proclink/capability"
)

// Kind distinguishes the envelope flavors delivered by the host.
type Kind uint8

const (
	KindRequest  Kind = 0 // expects_response may be set
	KindResponse Kind = 1 // answers the request with the same correlation ID
	KindGrant    Kind = 2 // host push of newly granted capabilities
)

// ID is the correlation identity linking a request to its response.
// Epoch is a per-process-instance token so counters reused after a restart
// never collide with pre-restart requests.
type ID struct {
	Epoch uint32
	Seq   uint64
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id.Epoch == 0 && id.Seq == 0 }

// Blob holds out-of-band bytes with an optional MIME type. Blobs travel next
// to the body so data-heavy payloads don't have to round-trip through the
// body codec.
type Blob struct {
	MIME  string
	Bytes []byte
}

// Envelope carries the data for one message.
//
//   - On request:  Target is where it goes; ExpectsResponse and Timeout
//     control correlation.
//   - On response: Correlation references the request being answered.
type Envelope struct {
	Kind            Kind
	Correlation     ID
	Source          address.Address
	Target          address.Address
	Body            []byte
	Blob            *Blob
	Capabilities    []capability.Capability
	Context         []byte
	ExpectsResponse bool
	InheritContext  bool
	Timeout         time.Duration
}

// Errors returned by the builders.
var (
	ErrNoTarget = errors.New("message: request has no target")
	ErrNoBody   = errors.New("message: envelope has no body")
)

// Builder accumulates a request. Start with NewRequest; every setter returns
// the builder for chaining.
type Builder struct {
	env Envelope
}

// NewRequest starts building a request envelope.
func NewRequest() *Builder {
	return &Builder{env: Envelope{Kind: KindRequest}}
}

// Target sets the destination address. Mandatory.
func (b *Builder) Target(a address.Address) *Builder {
	b.env.Target = a
	return b
}

// Body sets the opaque body bytes. Mandatory. The serialization strategy is
// the application's business; the core only shuttles the bytes.
func (b *Builder) Body(body []byte) *Builder {
	b.env.Body = body
	return b
}

// ExpectsResponse marks the request as correlated: sending it registers a
// pending call before the envelope leaves the library.
func (b *Builder) ExpectsResponse(v bool) *Builder {
	b.env.ExpectsResponse = v
	return b
}

// Timeout sets the response deadline. Zero means the engine default.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.env.Timeout = d
	return b
}

// InheritContext makes the eventual response inherit this request's context
// blob, for middleware-style processes that pass messages along.
func (b *Builder) InheritContext(v bool) *Builder {
	b.env.InheritContext = v
	return b
}

// Context attaches an opaque context blob returned to the sender alongside
// the response.
func (b *Builder) Context(ctx []byte) *Builder {
	b.env.Context = ctx
	return b
}

// Blob attaches out-of-band bytes.
func (b *Builder) Blob(blob Blob) *Builder {
	b.env.Blob = &Blob{MIME: blob.MIME, Bytes: blob.Bytes}
	return b
}

// Capabilities attaches a set of capabilities, replacing any already attached.
func (b *Builder) Capabilities(caps []capability.Capability) *Builder {
	b.env.Capabilities = append([]capability.Capability(nil), caps...)
	return b
}

// AttachCapability appends one capability. Implements capability.Attacher so
// a Guard can attach directly.
func (b *Builder) AttachCapability(c capability.Capability) {
	b.env.Capabilities = append(b.env.Capabilities, c)
}

// Envelope validates the builder and returns an independent copy of the
// accumulated envelope; later builder mutations don't reach it.
func (b *Builder) Envelope() (*Envelope, error) {
	if b.env.Target == (address.Address{}) {
		return nil, ErrNoTarget
	}
	if b.env.Body == nil {
		return nil, ErrNoBody
	}
	env := b.env
	env.Body = append([]byte(nil), b.env.Body...)
	if b.env.Blob != nil {
		env.Blob = &Blob{MIME: b.env.Blob.MIME, Bytes: append([]byte(nil), b.env.Blob.Bytes...)}
	}
	env.Capabilities = append([]capability.Capability(nil), b.env.Capabilities...)
	return &env, nil
}

// ResponseBuilder accumulates a response to a received request.
type ResponseBuilder struct {
	env     Envelope
	inherit bool
}

// NewResponse starts building a response. Building will not succeed until the
// body has been set.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{env: Envelope{Kind: KindResponse}}
}

// Body sets the response body bytes. Mandatory.
func (b *ResponseBuilder) Body(body []byte) *ResponseBuilder {
	b.env.Body = body
	return b
}

// Inherit controls whether this response inherits the blob of the request
// being answered. An explicitly set blob wins over inheritance.
func (b *ResponseBuilder) Inherit(v bool) *ResponseBuilder {
	b.inherit = v
	return b
}

// Blob attaches out-of-band bytes to the response.
func (b *ResponseBuilder) Blob(blob Blob) *ResponseBuilder {
	b.env.Blob = &Blob{MIME: blob.MIME, Bytes: blob.Bytes}
	return b
}

// Context sets the response metadata blob.
func (b *ResponseBuilder) Context(ctx []byte) *ResponseBuilder {
	b.env.Context = ctx
	return b
}

// AttachCapability appends one capability. Implements capability.Attacher.
func (b *ResponseBuilder) AttachCapability(c capability.Capability) {
	b.env.Capabilities = append(b.env.Capabilities, c)
}

// Envelope validates and returns the response envelope, bound to the request
// it answers: target and correlation come from the request, never the caller.
func (b *ResponseBuilder) Envelope(request *Envelope) (*Envelope, error) {
	if b.env.Body == nil {
		return nil, ErrNoBody
	}
	env := b.env
	env.Target = request.Source
	env.Correlation = request.Correlation
	env.Body = append([]byte(nil), b.env.Body...)
	env.Capabilities = append([]capability.Capability(nil), b.env.Capabilities...)
	if b.inherit && env.Blob == nil && request.Blob != nil {
		env.Blob = &Blob{MIME: request.Blob.MIME, Bytes: request.Blob.Bytes}
	}
	return &env, nil
}
