package process

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"proclink/codec"
	"proclink/message"
)

// Router is an ergonomic layer over the raw Handler: applications register
// receiver structs, and inbound request bodies of the shape
// {"method":"Service.Method","params":...} are dispatched to the matching
// exported method via reflection.
//
// Valid method signature: func (s *Svc) Name(args *Args, reply *Reply) error.
type Router struct {
	services map[string]*service
	codec    codec.Codec
}

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewRouter creates a router encoding replies with the given codec.
func NewRouter(codecType codec.CodecType) *Router {
	return &Router{
		services: make(map[string]*service),
		codec:    codec.GetCodec(codecType),
	}
}

// Register scans rcvr's exported methods and makes the conforming ones
// callable. The struct type's name becomes the service name.
func (r *Router) Register(rcvr any) error {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr {
		return fmt.Errorf("router: rcvr must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("router: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	r.services[svc.name] = svc
	return nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// registerMethods keeps the methods matching the dispatch signature:
// 3 args (receiver, *Args, *Reply), one error return.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}
		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

func (s *service) call(mType *methodType, argv, replyv reflect.Value) error {
	args := [3]reflect.Value{s.rcvr, argv, replyv}
	results := mType.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// requestBody is the dispatch envelope body shape.
type requestBody struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// replyBody carries either the method's reply or its error.
type replyBody struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Handle dispatches one inbound request. It satisfies the process Handler
// signature; install with WithHandler(router.Handle).
func (r *Router) Handle(ctx context.Context, env *message.Envelope) (*message.ResponseBuilder, error) {
	var req requestBody
	if err := json.Unmarshal(env.Body, &req); err != nil {
		return r.errorReply(fmt.Sprintf("malformed request body: %v", err))
	}

	serviceName, methodName, ok := strings.Cut(req.Method, ".")
	if !ok {
		return r.errorReply(fmt.Sprintf("invalid method format: %q", req.Method))
	}
	svc, ok := r.services[serviceName]
	if !ok {
		return r.errorReply(fmt.Sprintf("unknown service: %q", serviceName))
	}
	mType, ok := svc.method[methodName]
	if !ok {
		return r.errorReply(fmt.Sprintf("unknown method: %q", req.Method))
	}

	argv := reflect.New(mType.ArgType)
	replyv := reflect.New(mType.ReplyType)
	if err := json.Unmarshal(req.Params, argv.Interface()); err != nil {
		return r.errorReply(fmt.Sprintf("malformed params: %v", err))
	}

	if err := svc.call(mType, argv, replyv); err != nil {
		return r.errorReply(err.Error())
	}

	result, err := json.Marshal(replyv.Interface())
	if err != nil {
		return nil, fmt.Errorf("router: marshal reply: %w", err)
	}
	body, err := r.codec.Encode(&replyBody{Result: result})
	if err != nil {
		return nil, fmt.Errorf("router: encode reply: %w", err)
	}
	return message.NewResponse().Body(body), nil
}

func (r *Router) errorReply(msg string) (*message.ResponseBuilder, error) {
	body, err := r.codec.Encode(&replyBody{Error: msg})
	if err != nil {
		return nil, err
	}
	return message.NewResponse().Body(body), nil
}
