package value

import (
	"encoding/json"
	"testing"
)

func TestAccessorsRejectWrongKind(t *testing.T) {
	v := String("hi")
	if _, err := v.AsNumber(); err == nil {
		t.Fatalf("expected TypeError, got nil")
	}
	if _, err := v.AsBool(); err == nil {
		t.Fatalf("expected TypeError, got nil")
	}
	s, err := v.AsString()
	if err != nil || s != "hi" {
		t.Fatalf("AsString() = %q, %v", s, err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object(map[string]Value{
		"items": Array(Number(1), Number(2)),
	})
	clone := orig.Clone()

	origArr, _ := orig.AsObject()
	cloneArr, _ := clone.AsObject()
	origItems, _ := origArr["items"].AsArray()
	cloneItems, _ := cloneArr["items"].AsArray()

	if len(origItems) != len(cloneItems) {
		t.Fatalf("length mismatch after clone")
	}
	n0, _ := cloneItems[0].AsNumber()
	if n0 != 1 {
		t.Fatalf("clone lost data: %v", n0)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	v := Object(map[string]Value{
		"name":   String("alpha"),
		"count":  Number(3),
		"active": Bool(true),
		"tags":   Array(String("a"), String("b")),
		"empty":  Null(),
	})
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fields, err := back.AsObject()
	if err != nil {
		t.Fatalf("AsObject: %v", err)
	}
	name, _ := fields["name"].AsString()
	if name != "alpha" {
		t.Fatalf("name = %q", name)
	}
	if !fields["empty"].IsNull() {
		t.Fatalf("expected null to survive round trip")
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a := Object(map[string]Value{"b": Number(2), "a": Number(1)})
	b := Object(map[string]Value{"a": Number(1), "b": Number(2)})

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical forms differ: %s vs %s", ca, cb)
	}
	if string(ca) != `{"a":1,"b":2}` {
		t.Fatalf("unexpected canonical form: %s", ca)
	}
}
