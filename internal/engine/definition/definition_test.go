package definition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const orderXML = `<?xml version="1.0" encoding="UTF-8"?>
<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL"
             xmlns:smart="http://smartengine.org/schema/process"
             id="order" version="2.0.0">
  <process id="order" name="Order handling">
    <startEvent id="start"/>
    <sequenceFlow id="f1" sourceRef="start" targetRef="check"/>
    <serviceTask id="check" smart:class="orders.Checker"/>
    <sequenceFlow id="f2" sourceRef="check" targetRef="route"/>
    <exclusiveGateway id="route" default="f4"/>
    <sequenceFlow id="f3" sourceRef="route" targetRef="fork">
      <conditionExpression>amount &gt; 100</conditionExpression>
    </sequenceFlow>
    <sequenceFlow id="f4" sourceRef="route" targetRef="end"/>
    <parallelGateway id="fork"/>
    <sequenceFlow id="f5" sourceRef="fork" targetRef="reserve"/>
    <sequenceFlow id="f6" sourceRef="fork" targetRef="approve"/>
    <serviceTask id="reserve" smart:class="orders.Reserver"/>
    <receiveTask id="approve"/>
    <sequenceFlow id="f7" sourceRef="reserve" targetRef="join"/>
    <sequenceFlow id="f8" sourceRef="approve" targetRef="join"/>
    <parallelGateway id="join"/>
    <sequenceFlow id="f9" sourceRef="join" targetRef="end"/>
    <endEvent id="end"/>
  </process>
</definitions>`

func TestParseOrderDefinition(t *testing.T) {
	def, err := ParseBytes([]byte(orderXML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "order" || def.Version != "2.0.0" {
		t.Fatalf("unexpected identity %s:%s", def.ID, def.Version)
	}
	if def.Key() != "order:2.0.0" {
		t.Fatalf("unexpected key %s", def.Key())
	}
	check, ok := def.Node("check")
	if !ok || check.Kind != ServiceTask || check.Class != "orders.Checker" {
		t.Fatalf("unexpected check node: %+v", check)
	}
	if got := def.Outgoing("fork"); len(got) != 2 {
		t.Fatalf("expected fork to have 2 outgoing flows, got %d", len(got))
	}
	if got := def.Incoming("join"); len(got) != 2 {
		t.Fatalf("expected join to have 2 incoming flows, got %d", len(got))
	}
	route, _ := def.Node("route")
	if route.Default != "f4" {
		t.Fatalf("expected default flow f4, got %s", route.Default)
	}
	classes := def.Classes()
	if len(classes) != 2 || classes[0] != "orders.Checker" || classes[1] != "orders.Reserver" {
		t.Fatalf("unexpected classes %v", classes)
	}
	if def.Start().ID != "start" {
		t.Fatalf("unexpected start %s", def.Start().ID)
	}
}

func TestParseDefaultsVersionAndProcessID(t *testing.T) {
	doc := `<definitions><process id="tiny"><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="e"/><endEvent id="e"/></process></definitions>`
	def, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "tiny" || def.Version != DefaultVersion {
		t.Fatalf("unexpected identity %s:%s", def.ID, def.Version)
	}
}

func TestParseRejectsInvalidGraphs(t *testing.T) {
	cases := map[string]string{
		"malformed":       `<definitions><process id="x">`,
		"no start":        `<definitions id="x"><process><endEvent id="e"/></process></definitions>`,
		"missing class":   `<definitions id="x"><process><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="t"/><serviceTask id="t"/><sequenceFlow id="g" sourceRef="t" targetRef="e"/><endEvent id="e"/></process></definitions>`,
		"dangling target": `<definitions id="x"><process><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="nowhere"/><endEvent id="e"/></process></definitions>`,
		"unreachable":     `<definitions id="x"><process><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="e"/><endEvent id="e"/><endEvent id="lost"/></process></definitions>`,
		"unknown kind":    `<definitions id="x"><process><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="t"/><userTask id="t"/><sequenceFlow id="g" sourceRef="t" targetRef="e"/><endEvent id="e"/></process></definitions>`,
		"bad condition":   `<definitions id="x"><process><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="e"><conditionExpression>1 == 2</conditionExpression></sequenceFlow><endEvent id="e"/></process></definitions>`,
		"duplicate id":    `<definitions id="x"><process><startEvent id="s"/><sequenceFlow id="s" sourceRef="s" targetRef="e"/><endEvent id="e"/></process></definitions>`,
	}
	for name, doc := range cases {
		if _, err := ParseBytes([]byte(doc)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestParseFileWrapsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xml")
	if err := os.WriteFile(path, []byte("<definitions/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ParseFile(path)
	if err == nil || !strings.Contains(err.Error(), "broken.xml") {
		t.Fatalf("expected error mentioning the file, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	def, err := ParseBytes([]byte(orderXML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	clone := def.Clone()
	clone.Nodes[0].Name = "changed"
	if def.Nodes[0].Name == "changed" {
		t.Fatalf("clone shares node storage")
	}
	if len(clone.Outgoing("fork")) != 2 {
		t.Fatalf("clone index not rebuilt")
	}
}

func TestConditions(t *testing.T) {
	vars := map[string]any{"amount": 150, "approved": true, "tier": "gold", "empty": ""}
	lookup := func(k string) (any, bool) {
		v, ok := vars[k]
		return v, ok
	}
	cases := map[string]bool{
		"amount > 100":      true,
		"amount <= 100":     false,
		"${amount == 150}":  true,
		"approved":          true,
		"!approved":         false,
		"approved == false": false,
		"tier == 'gold'":    true,
		`tier != "silver"`:  true,
		"missing":           false,
		"missing == null":   true,
		"empty":             false,
		"missing != 3":      true,
	}
	for expr, want := range cases {
		cond, err := ParseCondition(expr)
		if err != nil {
			t.Fatalf("parse %q: %v", expr, err)
		}
		if got := cond.Eval(lookup); got != want {
			t.Fatalf("%q evaluated to %v, want %v", expr, got, want)
		}
	}
	for _, bad := range []string{"", "1abc", "a == ", "a == nope"} {
		if _, err := ParseCondition(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
