package wire

import (
	"errors"
	"fmt"
)

// Decoding and validation errors.
var (
	ErrMalformed       = errors.New("malformed message")
	ErrInvalidKind     = errors.New("invalid request kind")
	ErrMissingFunction = errors.New("spawn request without function")
	ErrMissingName     = errors.New("lookup request without name")
)

// Request is a distributed runtime request sent from one node to another.
// The fields used depend on Kind.
//
// CBOR encoding:
//
//	{
//	  1: kind,           // uint8, see RequestKind
//	  2: environmentId,  // uint64
//	  3: processId,      // uint64: target process (Message, Link, Unlink, Kill)
//	  4: moduleId,       // uint64 (Spawn)
//	  5: function,       // text (Spawn)
//	  6: params,         // [int64] (Spawn)
//	  7: config,         // bytes: serialized process config (Spawn)
//	  8: tag,            // int64 (Message, Link)
//	  9: data,           // bytes (Message)
//	  10: linkedId,      // uint64: local process to link (Link, Unlink)
//	  11: name           // text (Lookup)
//	}
type Request struct {
	Kind          RequestKind `cbor:"1,keyasint"`
	EnvironmentID uint64      `cbor:"2,keyasint,omitempty"`
	ProcessID     uint64      `cbor:"3,keyasint,omitempty"`
	ModuleID      uint64      `cbor:"4,keyasint,omitempty"`
	Function      string      `cbor:"5,keyasint,omitempty"`
	Params        []int64     `cbor:"6,keyasint,omitempty"`
	Config        []byte      `cbor:"7,keyasint,omitempty"`
	Tag           *int64      `cbor:"8,keyasint,omitempty"`
	Data          []byte      `cbor:"9,keyasint,omitempty"`
	LinkedID      uint64      `cbor:"10,keyasint,omitempty"`
	Name          string      `cbor:"11,keyasint,omitempty"`
}

// Validate checks that the fields required by the request kind are set.
func (r *Request) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, r.Kind)
	}
	switch r.Kind {
	case KindSpawn:
		if r.Function == "" {
			return ErrMissingFunction
		}
	case KindLookup:
		if r.Name == "" {
			return ErrMissingName
		}
	}
	return nil
}

// Response answers a Request. It travels on the same stream, chunked under
// the message id of the request.
//
// CBOR encoding:
//
//	{
//	  1: kind,       // uint8, see ResponseKind
//	  2: processId,  // uint64 (Spawned, Resolved)
//	  3: error       // text (Error)
//	}
type Response struct {
	Kind      ResponseKind `cbor:"1,keyasint"`
	ProcessID uint64       `cbor:"2,keyasint,omitempty"`
	Error     string       `cbor:"3,keyasint,omitempty"`
}

// IsSuccess returns true unless the response reports an error.
func (r *Response) IsSuccess() bool {
	return r.Kind != ResponseError
}

// ErrorResponse builds an error response from err.
func ErrorResponse(err error) *Response {
	return &Response{Kind: ResponseError, Error: err.Error()}
}

// Summary returns the set fields of the request for protocol logs. Data
// and Config are reduced to their sizes.
func (r *Request) Summary() map[string]any {
	s := map[string]any{"kind": r.Kind.String()}
	if r.EnvironmentID != 0 {
		s["environment"] = r.EnvironmentID
	}
	if r.ProcessID != 0 {
		s["process"] = r.ProcessID
	}
	if r.ModuleID != 0 {
		s["module"] = r.ModuleID
	}
	if r.Function != "" {
		s["function"] = r.Function
	}
	if len(r.Params) > 0 {
		s["params"] = r.Params
	}
	if len(r.Config) > 0 {
		s["config_size"] = len(r.Config)
	}
	if r.Tag != nil {
		s["tag"] = *r.Tag
	}
	if r.Data != nil {
		s["data_size"] = len(r.Data)
	}
	if r.LinkedID != 0 {
		s["linked"] = r.LinkedID
	}
	if r.Name != "" {
		s["name"] = r.Name
	}
	return s
}
