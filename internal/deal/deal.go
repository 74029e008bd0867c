// Package deal validates negotiated deal payloads against the deal schema.
// It knows the shape of a deal and nothing about game rules.
package deal

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed deal.schema.json
var schemaJSON []byte

const schemaURL = "deal.schema.json"

// MaxPayload bounds the size of a payload before it is parsed.
const MaxPayload = 4096

var (
	ErrParse  = errors.New("deal: invalid json")
	ErrSchema = errors.New("deal: schema violation")
)

// ValidationError wraps ErrParse or ErrSchema with the detail.
type ValidationError struct {
	Kind   error
	Detail string
}

func (e *ValidationError) Error() string { return e.Kind.Error() + ": " + e.Detail }
func (e *ValidationError) Unwrap() error { return e.Kind }

type Validator struct {
	schema *jsonschema.Schema
	digest string
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("deal schema: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("deal schema: %w", err)
	}
	sum := sha256.Sum256(schemaJSON)
	return &Validator{schema: s, digest: hex.EncodeToString(sum[:])}, nil
}

// MustValidator panics if the embedded schema does not compile.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Digest identifies the schema revision, like the rules digest.
func (v *Validator) Digest() string { return v.digest }

// ValidateDeal parses payload and checks it against the schema.
func (v *Validator) ValidateDeal(payload []byte) error {
	if len(payload) > MaxPayload {
		return &ValidationError{Kind: ErrParse, Detail: fmt.Sprintf("payload exceeds %d bytes", MaxPayload)}
	}
	doc, err := decode(payload)
	if err != nil {
		return &ValidationError{Kind: ErrParse, Detail: err.Error()}
	}
	if err := v.schema.Validate(doc); err != nil {
		return &ValidationError{Kind: ErrSchema, Detail: flatten(err)}
	}
	return nil
}

func decode(payload []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("trailing data")
	}
	return doc, nil
}

// flatten joins the leaf causes of a schema error into one line.
func flatten(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
