package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kingrea/orchestra/internal/config"
	"github.com/kingrea/orchestra/internal/container"
	"github.com/kingrea/orchestra/internal/engine"
)

const chargeScript = `package main

import "fmt"

func Execute(vars map[string]any) (map[string]any, error) {
	amount, ok := vars["amount"].(int)
	if !ok {
		return nil, fmt.Errorf("amount missing")
	}
	return map[string]any{"charged": amount * 2}, nil
}
`

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadScriptDirAndExecute(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "charge_card.go", chargeScript)
	writeScript(t, dir, "notes.txt", "ignored")
	scripts, err := LoadScriptDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(scripts) != 1 {
		t.Fatalf("expected 1 script, got %d", len(scripts))
	}
	s := scripts[0]
	if s.ComponentName() != "script.ChargeCard" {
		t.Fatalf("unexpected component name %s", s.ComponentName())
	}
	ec := &engine.ExecutionContext{Vars: engine.NewVariables(map[string]any{"amount": 21})}
	if err := s.Execute(context.Background(), ec); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got, _ := ec.Vars.Get("charged"); got != 42 {
		t.Fatalf("expected charged=42, got %v", got)
	}
	if err := s.Execute(context.Background(), &engine.ExecutionContext{Vars: engine.NewVariables(nil)}); err == nil {
		t.Fatalf("expected script error without amount")
	}
}

func TestLoadScriptDirMissingIsEmpty(t *testing.T) {
	scripts, err := LoadScriptDir(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(scripts) != 0 {
		t.Fatalf("expected no scripts")
	}
}

func TestLoadScriptRequiresExecute(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.go", "package main\n")
	if _, err := LoadScriptDir(dir); err == nil {
		t.Fatalf("expected error for missing Execute")
	}
}

func TestRegisterScriptsInContainer(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "charge-card.go", chargeScript)
	c := container.New(config.FromMap(nil))
	scripts, err := RegisterScripts(c, dir)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(scripts) != 1 {
		t.Fatalf("expected one script")
	}
	component, err := c.ResolveByName("script.ChargeCard")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := engine.AsDelegation("script.ChargeCard", component); err != nil {
		t.Fatalf("script should be a delegation: %v", err)
	}
}

func TestCamelName(t *testing.T) {
	cases := map[string]string{"charge_card": "ChargeCard", "ship": "Ship", "a-b.c": "ABC"}
	for in, want := range cases {
		if got := camelName(in); got != want {
			t.Fatalf("camelName(%q) = %q, want %q", in, got, want)
		}
	}
}
