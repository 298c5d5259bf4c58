package graph

import (
	"testing"

	"github.com/conductorhq/conductor-go/graph/value"
)

func TestAlwaysPredicate(t *testing.T) {
	if !Always(NewTaskContext(value.Null())) {
		t.Fatal("Always should always return true")
	}
}

func TestFieldEqualsMatchesEqualField(t *testing.T) {
	tc := NewTaskContext(value.Object(map[string]value.Value{
		"status": value.String("approved"),
	}))
	pred := FieldEquals("status", value.String("approved"))
	if !pred(tc) {
		t.Fatal("expected FieldEquals to match equal field")
	}
}

func TestFieldEqualsRejectsMismatchedField(t *testing.T) {
	tc := NewTaskContext(value.Object(map[string]value.Value{
		"status": value.String("pending"),
	}))
	pred := FieldEquals("status", value.String("approved"))
	if pred(tc) {
		t.Fatal("expected FieldEquals to reject mismatched field")
	}
}

func TestFieldEqualsRejectsMissingFieldOrNonObject(t *testing.T) {
	missingField := NewTaskContext(value.Object(map[string]value.Value{}))
	if FieldEquals("status", value.String("approved"))(missingField) {
		t.Fatal("expected false when the field is absent")
	}

	notAnObject := NewTaskContext(value.String("not an object"))
	if FieldEquals("status", value.String("approved"))(notAnObject) {
		t.Fatal("expected false when EventData is not an object")
	}
}
