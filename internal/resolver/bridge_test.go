package resolver

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kingrea/orchestra/internal/config"
	"github.com/kingrea/orchestra/internal/container"
)

type Charger interface{ Charge(amount int) error }

type cardCharger struct{ calls int }

func (c *cardCharger) Charge(int) error {
	c.calls++
	return nil
}

type auditor struct{}

func newFixture(t *testing.T, policy Policy) (*Bridge, *container.Container, *TypeRegistry) {
	t.Helper()
	c := container.New(config.FromMap(nil))
	if err := c.Register("cardCharger", &cardCharger{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Register("auditor", auditor{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	types := NewTypeRegistry()
	types.MustRegister("payments.Charger", (*Charger)(nil))
	if err := types.RegisterGoType("", reflect.TypeOf(auditor{})); err != nil {
		t.Fatalf("register go type: %v", err)
	}
	b, err := New(c, types, WithPolicy(policy))
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	return b, c, types
}

func TestAccessResolvesRegisteredType(t *testing.T) {
	b, _, _ := newFixture(t, PolicyTypeOnly)
	component, err := b.Access("payments.Charger")
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	charger, ok := component.(Charger)
	if !ok {
		t.Fatalf("expected Charger, got %T", component)
	}
	if err := charger.Charge(5); err != nil {
		t.Fatalf("charge: %v", err)
	}
	again, err := b.Access("payments.Charger")
	if err != nil {
		t.Fatalf("second access: %v", err)
	}
	if again != component {
		t.Fatalf("expected the container singleton on every call")
	}
	if _, err := b.Access("resolver.auditor"); err != nil {
		t.Fatalf("access by Go type name: %v", err)
	}
}

func TestAccessUnknownTypeFails(t *testing.T) {
	b, _, _ := newFixture(t, PolicyTypeOnly)
	_, err := b.Access("cardCharger")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if resErr.Name != "cardCharger" {
		t.Fatalf("unexpected name %s", resErr.Name)
	}
	if !errors.Is(err, ErrTypeNotFound) {
		t.Fatalf("expected ErrTypeNotFound in chain, got %v", err)
	}
}

func TestAccessTypeWithoutComponentFails(t *testing.T) {
	b, _, types := newFixture(t, PolicyTypeOnly)
	if err := types.Register("numbers.Int", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := b.Access("numbers.Int")
	if !errors.Is(err, container.ErrNotFound) {
		t.Fatalf("expected container.ErrNotFound, got %v", err)
	}
}

func TestTypeThenNameFallsBackToComponentName(t *testing.T) {
	b, _, _ := newFixture(t, PolicyTypeThenName)
	component, err := b.Access("cardCharger")
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	if _, ok := component.(*cardCharger); !ok {
		t.Fatalf("unexpected component %T", component)
	}
	if _, err := b.Access("nobody"); err == nil {
		t.Fatalf("expected error when neither type nor name match")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("type-then-name"); err != nil || p != PolicyTypeThenName {
		t.Fatalf("unexpected %v %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyTypeOnly {
		t.Fatalf("unexpected %v %v", p, err)
	}
	if _, err := ParsePolicy("guess"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegistryRejectsConflicts(t *testing.T) {
	types := NewTypeRegistry()
	if err := types.Register("x", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := types.Register("x", 0); err != nil {
		t.Fatalf("re-registering the same type should succeed: %v", err)
	}
	if err := types.Register("x", ""); err == nil {
		t.Fatalf("expected conflict error")
	}
	if _, err := types.Load("y"); !errors.Is(err, ErrTypeNotFound) {
		t.Fatalf("expected ErrTypeNotFound, got %v", err)
	}
}
