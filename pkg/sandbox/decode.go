package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ResponseSpec is the structured response descriptor a guest returns:
// the body, HTTP status and headers the gateway should emit.
type ResponseSpec struct {
	Body    any               `json:"body" cbor:"body"`
	Status  int               `json:"status" cbor:"status"`
	Headers map[string]string `json:"headers" cbor:"headers"`
}

// DecodeResponse interprets a guest value as a ResponseSpec. Binary
// payloads are CBOR; text payloads are JSON. An empty value decodes to
// an all-defaults spec; anything undecodable returns a typed error so
// the caller can degrade to an Error outcome instead of crashing.
func DecodeResponse(v Value) (*ResponseSpec, error) {
	spec := &ResponseSpec{}
	switch {
	case v.IsBinary:
		if err := cbor.Unmarshal(v.Binary, spec); err != nil {
			return nil, &Error{Code: ErrResultUndecodable, Message: fmt.Sprintf("binary value: %v", err)}
		}
	case v.Text != "":
		if err := json.Unmarshal([]byte(v.Text), spec); err != nil {
			return nil, &Error{Code: ErrResultUndecodable, Message: fmt.Sprintf("json value: %v", err)}
		}
	}
	if spec.Status == 0 {
		spec.Status = 200
	}
	if spec.Headers == nil {
		spec.Headers = map[string]string{}
	}
	return spec, nil
}

// BodyBytes renders the spec body for the wire. Strings and byte
// slices pass through; anything else is JSON-encoded.
func (s *ResponseSpec) BodyBytes() []byte {
	switch b := s.Body.(type) {
	case nil:
		return nil
	case string:
		return []byte(b)
	case []byte:
		return b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return []byte(fmt.Sprintf("%v", b))
		}
		return raw
	}
}
