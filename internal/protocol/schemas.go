package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeCreateMatch:    "create_match.schema.json",
	TypeGetObservation: "get_observation.schema.json",
	TypeSubmitAction:   "submit_action.schema.json",
	TypeAdvance:        "advance.schema.json",
	TypeNegotiate:      "negotiate.schema.json",
	TypeAck:            "ack.schema.json",
	TypeEventBatch:     "event_batch.schema.json",
}

// CompileSchema compiles the embedded schema for a message type.
func CompileSchema(msgType string) (*jsonschema.Schema, error) {
	name, ok := schemaFiles[msgType]
	if !ok {
		return nil, fmt.Errorf("no schema for %s", msgType)
	}
	raw, err := schemaFS.ReadFile(path.Join("schemas", name))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// RequestValidator checks inbound messages before they are decoded into
// structs, so malformed envelopes fail with E_PROTO_BAD_REQUEST.
type RequestValidator struct {
	schemas map[string]*jsonschema.Schema
}

func NewRequestValidator() (*RequestValidator, error) {
	v := &RequestValidator{schemas: map[string]*jsonschema.Schema{}}
	for _, t := range []string{TypeCreateMatch, TypeGetObservation, TypeSubmitAction, TypeAdvance, TypeNegotiate} {
		s, err := CompileSchema(t)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", t, err)
		}
		v.schemas[t] = s
	}
	return v, nil
}

func (v *RequestValidator) Validate(msgType string, raw []byte) error {
	s, ok := v.schemas[msgType]
	if !ok {
		return NewError(ErrProtoBadRequest, "unknown message type "+msgType)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return NewError(ErrProtoBadRequest, "bad json: "+err.Error())
	}
	if err := s.Validate(doc); err != nil {
		return NewError(ErrProtoBadRequest, err.Error())
	}
	return nil
}
