package schemaregistry

import "testing"

type alwaysValid struct{}

func (alwaysValid) Validate([]byte) bool { return true }

type alwaysInvalid struct{}

func (alwaysInvalid) Validate([]byte) bool { return false }

func TestRegisterAndGet(t *testing.T) {
	r := New()
	if err := r.Register("orders-v1", alwaysValid{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	v, err := r.Get("orders-v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !v.Validate([]byte("x")) {
		t.Fatalf("expected validator to pass")
	}
}

func TestRegisterRejectsInvalidName(t *testing.T) {
	r := New()
	if err := r.Register("has a space", alwaysValid{}); err == nil {
		t.Fatalf("expected invalid-name error")
	}
}

func TestGetUnknownSchemaFails(t *testing.T) {
	r := New()
	if _, err := r.Get("missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestDeleteIsNoOpForUnknownName(t *testing.T) {
	r := New()
	r.Delete("never-registered") // must not panic
}

func TestListIsSorted(t *testing.T) {
	r := New()
	r.Register("zeta", alwaysValid{})
	r.Register("alpha", alwaysInvalid{})

	names := r.List()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("List() = %v, want [alpha zeta]", names)
	}
}
