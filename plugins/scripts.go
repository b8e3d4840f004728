package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kingrea/orchestra/internal/container"
	"github.com/kingrea/orchestra/internal/engine"
)

const (
	scriptFuncName = "Execute"
	// ScriptPrefix qualifies the component name of every script.
	ScriptPrefix = "script."
)

// ScriptFunc is the signature every script exposes as Execute.
type ScriptFunc func(vars map[string]any) (map[string]any, error)

// Script is a service-task component interpreted from a .go file.
type Script struct {
	Name string
	Path string
	fn   ScriptFunc
}

// ComponentName is the name the script is registered under, e.g.
// script.ChargeCard for charge_card.go.
func (s *Script) ComponentName() string {
	return ScriptPrefix + s.Name
}

// Execute runs the script against a copy of the instance variables and
// stores whatever it returns.
func (s *Script) Execute(_ context.Context, ec *engine.ExecutionContext) error {
	out, err := s.fn(ec.Vars.Snapshot())
	if err != nil {
		return fmt.Errorf("script %s: %w", s.Name, err)
	}
	ec.Vars.Merge(out)
	return nil
}

// LoadScriptDir interprets every .go file in dir. A missing directory holds
// no scripts.
func LoadScriptDir(dir string) ([]*Script, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var scripts []*Script
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		script, err := LoadScriptFile(path)
		if err != nil {
			return nil, err
		}
		if existing, ok := seen[script.Name]; ok {
			return nil, fmt.Errorf("plugin: duplicate script %s (%s and %s)", script.Name, existing, path)
		}
		seen[script.Name] = path
		scripts = append(scripts, script)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Path < scripts[j].Path })
	return scripts, nil
}

// LoadScriptFile interprets one script file.
func LoadScriptFile(path string) (*Script, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(scriptFuncName)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s(map[string]any) (map[string]any, error): %w", path, scriptFuncName, err)
	}
	fn, err := scriptFunc(fnValue)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Script{Name: camelName(base), Path: path, fn: fn}, nil
}

// RegisterScripts loads dir and registers each script in c under its
// component name. Definitions reach scripts by that name, so hosts using
// scripts run the resolver with the type-then-name policy.
func RegisterScripts(c *container.Container, dir string) ([]*Script, error) {
	if c == nil {
		return nil, nil
	}
	scripts, err := LoadScriptDir(dir)
	if err != nil {
		return nil, err
	}
	for _, s := range scripts {
		if err := c.Register(s.ComponentName(), s); err != nil {
			return nil, fmt.Errorf("plugin: register %s from %s: %w", s.ComponentName(), s.Path, err)
		}
	}
	return scripts, nil
}

func scriptFunc(value reflect.Value) (ScriptFunc, error) {
	if !value.IsValid() {
		return nil, fmt.Errorf("missing %s function", scriptFuncName)
	}
	if fn, ok := value.Interface().(func(map[string]any) (map[string]any, error)); ok {
		return fn, nil
	}
	if value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", scriptFuncName)
	}
	typ := value.Type()
	if typ.NumIn() != 1 || typ.NumOut() != 2 {
		return nil, fmt.Errorf("%s must have signature func(map[string]any) (map[string]any, error)", scriptFuncName)
	}
	return func(vars map[string]any) (map[string]any, error) {
		results := value.Call([]reflect.Value{reflect.ValueOf(vars)})
		if !results[1].IsNil() {
			if e, ok := results[1].Interface().(error); ok && e != nil {
				return nil, e
			}
			return nil, fmt.Errorf("%s returned non-error second value", scriptFuncName)
		}
		out, ok := results[0].Interface().(map[string]any)
		if !ok && !results[0].IsNil() {
			return nil, fmt.Errorf("%s must return map[string]any", scriptFuncName)
		}
		return out, nil
	}, nil
}

// camelName turns charge_card or charge-card into ChargeCard.
func camelName(base string) string {
	var b strings.Builder
	upper := true
	for _, r := range base {
		if r == '_' || r == '-' || r == '.' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
