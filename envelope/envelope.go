// Package envelope defines the wire-level response container for the gateway.
//
// Every call is answered with a JSON object of exactly two fields:
//
//	{"data":<json-value-or-null>,"status":<true|false|null>}
//
// status is tri-state: true means the call succeeded, false means the call
// reached the server but failed (bad input, routing failure, handler error).
// A null status is reserved for "never reached server" and is only ever
// produced client-side; no server code path sets it.
package envelope

import (
	"encoding/json"
	"reflect"
)

// Envelope is the unit of response data: the method's return value (or an
// error description) plus the call status.
//
// Data and Status are set together by whichever component produces the
// Envelope; use the Success and Failure constructors rather than building
// one field at a time.
type Envelope struct {
	Data   any
	Status *bool
}

// Success wraps a handler return value in a status=true envelope.
func Success(data any) Envelope {
	t := true
	return Envelope{Data: data, Status: &t}
}

// Failure wraps an error description in a status=false envelope.
func Failure(message string) Envelope {
	f := false
	return Envelope{Data: message, Status: &f}
}

// OK reports whether the envelope carries an explicit status of true.
func (e Envelope) OK() bool {
	return e.Status != nil && *e.Status
}

// wire fixes the field order of the serialized form.
type wire struct {
	Data   any   `json:"data"`
	Status *bool `json:"status"`
}

// MarshalJSON implements json.Marshaler.
//
// Empty slices and arrays collapse to null, never []: legacy clients treat
// "no data" and "empty data" identically and expect null for both.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{Data: collapse(e.Data), Status: e.Status})
}

// UnmarshalJSON implements json.Unmarshaler. Used by clients and tests; the
// server only encodes.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Data = w.Data
	e.Status = w.Status
	return nil
}

func collapse(data any) any {
	if data == nil {
		return nil
	}
	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return nil
		}
	}
	return data
}
