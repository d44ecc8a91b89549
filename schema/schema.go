// Package schema wraps santhosh-tekuri/jsonschema/v6 behind the narrow
// Validator contract that tool args/yield/result payloads and agent
// structured output are checked against (spec.md §6.4, §9 Open Question on
// schema validation library choice — resolved in favor of jsonschema/v6,
// see DESIGN.md).
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks a decoded JSON value against a compiled schema.
type Validator interface {
	// Validate returns a *ValidationError describing every violation, or
	// nil if value conforms.
	Validate(value any) error
	// Raw returns the schema document this Validator was compiled from, for
	// embedding in tool_call/invocation_start event payloads.
	Raw() json.RawMessage
}

// ValidationError wraps jsonschema's structured validation failure with the
// schema name it was checked against, so callers can surface it on a
// tool_result or agent output_parse_error without reaching into the
// jsonschema package themselves.
type ValidationError struct {
	SchemaName string
	Cause      *jsonschema.ValidationError
}

func (e *ValidationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("schema %q: validation failed", e.SchemaName)
	}
	return fmt.Sprintf("schema %q: %s", e.SchemaName, e.Cause.Error())
}

func (e *ValidationError) Unwrap() error { return e.Cause }

type compiled struct {
	name string
	raw  json.RawMessage
	sch  *jsonschema.Schema
}

func (c *compiled) Raw() json.RawMessage { return c.raw }

func (c *compiled) Validate(value any) error {
	if c.sch == nil {
		return nil
	}
	if err := c.sch.Validate(value); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return &ValidationError{SchemaName: c.name, Cause: ve}
		}
		return &ValidationError{SchemaName: c.name}
	}
	return nil
}

// compileCache memoizes compiled schemas by their raw bytes so agents and
// tools reused across many invocations of the same Runnable don't recompile
// identical schemas on every call.
var compileCache sync.Map

// Compile parses and compiles a JSON Schema document, returning a Validator.
// name is used only for error messages and the schema's resource URL.
func Compile(name string, raw json.RawMessage) (Validator, error) {
	key := name + "\x00" + string(raw)
	if v, ok := compileCache.Load(key); ok {
		return v.(Validator), nil
	}

	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema %q: decode: %w", name, err)
	}
	url := "mem://" + name
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema %q: add resource: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %q: compile: %w", name, err)
	}

	v := &compiled{name: name, raw: raw, sch: sch}
	compileCache.Store(key, v)
	return v, nil
}

// MustCompile is Compile but panics on error; intended for schemas embedded
// as Go literals at program init, where a compile failure is a programming
// error.
func MustCompile(name string, raw json.RawMessage) Validator {
	v, err := Compile(name, raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Accept is a Validator that accepts every value; used where no schema was
// configured (e.g. a tool that declares no ArgsSchema).
var Accept Validator = acceptAll{}

type acceptAll struct{}

func (acceptAll) Validate(any) error   { return nil }
func (acceptAll) Raw() json.RawMessage { return nil }
