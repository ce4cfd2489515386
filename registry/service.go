package registry

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"
	"sync"
)

// boundMethod holds reflection data for one registered controller method.
type boundMethod struct {
	receiver    reflect.Value
	method      reflect.Method
	paramType   reflect.Type
	paramFields []int // struct field indices, in declaration order
}

// service is one registered controller: a receiver plus its method table.
type service struct {
	controller string
	methods    map[string]*boundMethod
}

// ServiceSet is a Provider backed by reflection over Go receiver structs.
//
// Register scans a receiver for exported methods of the shape
//
//	func (s *S) Method(ctx context.Context, params P) (R, error)
//
// where P is a struct. The request's positional JSON argument array is
// decoded element-by-element into P's fields in declaration order; fields
// named "_" or tagged `json:"-"` are skipped.
//
// Registration happens at startup; lookups afterwards are read-mostly.
type ServiceSet struct {
	mu       sync.RWMutex
	services map[string]*service
}

// NewServiceSet creates an empty service registry.
func NewServiceSet() *ServiceSet {
	return &ServiceSet{services: make(map[string]*service)}
}

// Register adds receiver's methods under the given controller name.
// Methods with signatures the registry cannot invoke are silently skipped.
// Registering the same controller name twice panics.
func (s *ServiceSet) Register(controller string, receiver any) {
	val := reflect.ValueOf(receiver)
	typ := val.Type()

	svc := &service{controller: controller, methods: make(map[string]*boundMethod)}
	for i := 0; i < val.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		bm := bindMethod(val, method)
		if bm == nil {
			continue
		}
		svc.methods[method.Name] = bm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[controller]; exists {
		panic("registry: controller name collision: " + controller)
	}
	s.services[controller] = svc
}

// TryResolve implements Provider.
func (s *ServiceSet) TryResolve(name string) (Handler, bool) {
	s.mu.RLock()
	svc, ok := s.services[name]
	s.mu.RUnlock()
	return svc, ok
}

// Invoke implements Handler.
func (svc *service) Invoke(ctx context.Context, method string, args []json.RawMessage) (any, error) {
	bm, ok := svc.methods[method]
	if !ok {
		return nil, &InvokeError{
			Target: Target{Controller: svc.controller, Method: method},
			Reason: "no such method",
		}
	}
	return bm.call(ctx, Target{Controller: svc.controller, Method: method}, args)
}

func (m *boundMethod) call(ctx context.Context, target Target, args []json.RawMessage) (any, error) {
	in := make([]reflect.Value, 0, 3)
	in = append(in, m.receiver)
	in = append(in, reflect.ValueOf(ctx))

	if len(args) != len(m.paramFields) {
		return nil, &InvokeError{
			Target: target,
			Reason: "expected " + strconv.Itoa(len(m.paramFields)) +
				" argument(s), got " + strconv.Itoa(len(args)),
		}
	}

	param := reflect.New(m.paramType)
	for i, raw := range args {
		field := param.Elem().Field(m.paramFields[i])
		if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
			return nil, &InvokeError{
				Target: target,
				Reason: "argument " + strconv.Itoa(i) + " does not decode: " + err.Error(),
			}
		}
	}
	in = append(in, param.Elem())

	out := m.method.Func.Call(in)

	var err error
	if !out[1].IsNil() {
		err = out[1].Interface().(error)
	}
	return out[0].Interface(), err
}

// bindMethod extracts invocation data for a method, or nil if the signature
// does not fit func(ctx context.Context, params struct) (result, error).
func bindMethod(receiver reflect.Value, method reflect.Method) *boundMethod {
	ft := method.Func.Type()

	if ft.NumIn() != 3 || ft.NumOut() != 2 {
		return nil
	}
	if ft.In(1) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		return nil
	}
	if ft.Out(1) != reflect.TypeOf((*error)(nil)).Elem() {
		return nil
	}
	paramType := ft.In(2)
	if paramType.Kind() != reflect.Struct {
		return nil
	}

	bm := &boundMethod{
		receiver:  receiver,
		method:    method,
		paramType: paramType,
	}
	for i := 0; i < paramType.NumField(); i++ {
		field := paramType.Field(i)
		if field.Name == "_" {
			continue
		}
		if tag := field.Tag.Get("json"); tag == "-" {
			continue
		}
		bm.paramFields = append(bm.paramFields, i)
	}
	return bm
}
