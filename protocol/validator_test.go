package protocol

import (
	"testing"

	"github.com/conductorhq/conductor-go/graph"
	"github.com/conductorhq/conductor-go/graph/value"
)

func TestValidateRequestRejectsBadMethodName(t *testing.T) {
	v := NewValidator(DefaultValidatorOptions())
	req := NewRequest("req-1", "9bad", value.Null())
	err := v.ValidateRequest(req, 10)
	if _, ok := err.(*graph.ProtocolViolationError); !ok {
		t.Fatalf("expected ProtocolViolationError, got %T: %v", err, err)
	}
}

func TestValidateRequestRejectsDuplicateID(t *testing.T) {
	v := NewValidator(DefaultValidatorOptions())
	req := NewRequest("req-dup", "tools/call", value.Null())
	if err := v.ValidateRequest(req, 10); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if err := v.ValidateRequest(req, 10); err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
	v.RetireRequestID(req.ID)
	if err := v.ValidateRequest(req, 10); err != nil {
		t.Fatalf("expected id reusable after retirement: %v", err)
	}
}

func TestValidateRequestRejectsExcessiveNesting(t *testing.T) {
	opts := DefaultValidatorOptions()
	opts.MaxNestingDepth = 2
	v := NewValidator(opts)

	deep := value.Object(map[string]value.Value{
		"a": value.Object(map[string]value.Value{
			"b": value.Object(map[string]value.Value{
				"c": value.String("too deep"),
			}),
		}),
	})
	req := NewRequest("req-deep", "tools/call", deep)
	if err := v.ValidateRequest(req, 10); err == nil {
		t.Fatalf("expected nesting depth rejection")
	}
}

func TestValidateRequestRejectsInjectionSigil(t *testing.T) {
	v := NewValidator(DefaultValidatorOptions())
	params := value.Object(map[string]value.Value{"cmd": value.String("rm -rf $(echo x)")})
	req := NewRequest("req-sigil", "tools/call", params)
	if err := v.ValidateRequest(req, 10); err == nil {
		t.Fatalf("expected injection sigil rejection")
	}
}

func TestValidateRequestRejectsOversizedMessage(t *testing.T) {
	opts := DefaultValidatorOptions()
	opts.MaxMessageSize = 5
	v := NewValidator(opts)
	req := NewRequest("req-size", "tools/call", value.Null())
	if err := v.ValidateRequest(req, 1000); err == nil {
		t.Fatalf("expected oversized message rejection")
	}
}
