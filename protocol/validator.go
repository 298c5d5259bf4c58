package protocol

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/conductorhq/conductor-go/graph"
	"github.com/conductorhq/conductor-go/graph/value"
)

var methodNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9/_.-]{0,127}$`)

// injectionSigils are scanned for in tool-argument string values. A match
// is rejected outright rather than sanitized, so callers never mistake a
// silently-cleaned value for the one they sent.
var injectionSigils = []string{
	"$(", "`", "${", "<script", "../../", "\x00",
}

// ValidatorOptions bounds message shape.
type ValidatorOptions struct {
	MaxMessageSize  int
	MaxNestingDepth int
	MaxArrayLength  int
}

// DefaultValidatorOptions mirrors the defaults named in spec.md §6.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		MaxMessageSize:  1 << 20,
		MaxNestingDepth: 100,
		MaxArrayLength:  10000,
	}
}

// Validator enforces message-shape and content constraints on both
// inbound and outbound protocol traffic, and tracks in-flight request ids
// within a session to catch duplicates and retire completed ones.
type Validator struct {
	opts     ValidatorOptions
	schemas  map[string]*jsonschema.Schema

	seenIDs  map[string]bool
}

// NewValidator returns a Validator with opts applied.
func NewValidator(opts ValidatorOptions) *Validator {
	return &Validator{opts: opts, schemas: make(map[string]*jsonschema.Schema), seenIDs: make(map[string]bool)}
}

// RegisterToolSchema compiles and registers a JSON Schema (as raw JSON
// text) used to validate a tool's argument shape on invocation.
func (v *Validator) RegisterToolSchema(toolName, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(toolName, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("protocol: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(toolName)
	if err != nil {
		return fmt.Errorf("protocol: compile schema: %w", err)
	}
	v.schemas[toolName] = schema
	return nil
}

// ValidateRequest checks envelope shape, method name, request-id shape,
// and session-scoped duplicate ids. serializedSize is the size of the
// request as it will go over the wire.
func (v *Validator) ValidateRequest(req Request, serializedSize int) error {
	if serializedSize > v.opts.MaxMessageSize {
		return &graph.ValidationError{Field: "message_size", Reason: fmt.Sprintf("%d exceeds max %d", serializedSize, v.opts.MaxMessageSize)}
	}
	if req.JSONRPC != "2.0" {
		return &graph.ProtocolViolationError{Reason: "jsonrpc version must be \"2.0\""}
	}
	if !methodNameRe.MatchString(req.Method) {
		return &graph.ProtocolViolationError{Reason: fmt.Sprintf("invalid method name %q", req.Method)}
	}
	if err := validateRequestID(req.ID); err != nil {
		return err
	}
	if v.seenIDs[req.ID] {
		return &graph.ProtocolViolationError{Reason: fmt.Sprintf("duplicate request id %q", req.ID)}
	}
	if depth := nestingDepth(req.Params); depth > v.opts.MaxNestingDepth {
		return &graph.ValidationError{Field: "params", Reason: fmt.Sprintf("nesting depth %d exceeds max %d", depth, v.opts.MaxNestingDepth)}
	}
	if err := checkArrayLengths(req.Params, v.opts.MaxArrayLength); err != nil {
		return err
	}
	if err := scanForInjectionSigils(req.Params); err != nil {
		return err
	}
	v.seenIDs[req.ID] = true
	return nil
}

// ValidateToolArguments checks args against the schema registered for
// toolName, if any.
func (v *Validator) ValidateToolArguments(toolName string, args value.Value) error {
	schema, ok := v.schemas[toolName]
	if !ok {
		return nil
	}
	raw, err := valueToAny(args)
	if err != nil {
		return fmt.Errorf("protocol: decode args for validation: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return &graph.ValidationError{Field: "params", Reason: err.Error()}
	}
	return nil
}

// RetireRequestID removes id from the in-flight set on response or
// cancellation; a late response for a retired id must be dropped by the
// caller, not re-validated here.
func (v *Validator) RetireRequestID(id string) {
	delete(v.seenIDs, id)
}

func validateRequestID(id string) error {
	if id == "" {
		return &graph.ValidationError{Field: "id", Reason: "request id must not be empty"}
	}
	if len(id) > 256 {
		return &graph.ValidationError{Field: "id", Reason: "request id exceeds max length"}
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return &graph.ValidationError{Field: "id", Reason: "request id contains control characters"}
		}
	}
	return nil
}

func nestingDepth(v value.Value) int {
	switch v.Kind() {
	case value.KindArray:
		arr, _ := v.AsArray()
		max := 0
		for _, e := range arr {
			if d := nestingDepth(e); d > max {
				max = d
			}
		}
		return max + 1
	case value.KindObject:
		obj, _ := v.AsObject()
		max := 0
		for _, e := range obj {
			if d := nestingDepth(e); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}

func checkArrayLengths(v value.Value, maxLen int) error {
	switch v.Kind() {
	case value.KindArray:
		arr, _ := v.AsArray()
		if len(arr) > maxLen {
			return &graph.ValidationError{Field: "array", Reason: fmt.Sprintf("array length %d exceeds max %d", len(arr), maxLen)}
		}
		for _, e := range arr {
			if err := checkArrayLengths(e, maxLen); err != nil {
				return err
			}
		}
	case value.KindObject:
		obj, _ := v.AsObject()
		for _, e := range obj {
			if err := checkArrayLengths(e, maxLen); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanForInjectionSigils(v value.Value) error {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		for _, sigil := range injectionSigils {
			if strings.Contains(s, sigil) {
				return &graph.ValidationError{Field: "value", Reason: fmt.Sprintf("value contains disallowed sequence %q", sigil)}
			}
		}
	case value.KindArray:
		arr, _ := v.AsArray()
		for _, e := range arr {
			if err := scanForInjectionSigils(e); err != nil {
				return err
			}
		}
	case value.KindObject:
		obj, _ := v.AsObject()
		for k, e := range obj {
			for _, sigil := range injectionSigils {
				if strings.Contains(k, sigil) {
					return &graph.ValidationError{Field: "key", Reason: fmt.Sprintf("key contains disallowed sequence %q", sigil)}
				}
			}
			if err := scanForInjectionSigils(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func valueToAny(v value.Value) (interface{}, error) {
	raw, err := value.CanonicalJSON(v)
	if err != nil {
		return nil, err
	}
	decoded, err := value.FromJSON(raw)
	if err != nil {
		return nil, err
	}
	return valueKindToAny(decoded), nil
}

func valueKindToAny(v value.Value) interface{} {
	switch v.Kind() {
	case value.KindNull:
		return nil
	case value.KindBool:
		b, _ := v.AsBool()
		return b
	case value.KindNumber:
		n, _ := v.AsNumber()
		return n
	case value.KindString:
		s, _ := v.AsString()
		return s
	case value.KindArray:
		arr, _ := v.AsArray()
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			out[i] = valueKindToAny(e)
		}
		return out
	case value.KindObject:
		obj, _ := v.AsObject()
		out := make(map[string]interface{}, len(obj))
		for k, e := range obj {
			out[k] = valueKindToAny(e)
		}
		return out
	default:
		return nil
	}
}
