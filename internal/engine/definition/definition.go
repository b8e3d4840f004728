package definition

import (
	"fmt"
	"sort"
)

// NodeKind classifies a flow node.
type NodeKind string

const (
	StartEvent       NodeKind = "startEvent"
	EndEvent         NodeKind = "endEvent"
	ServiceTask      NodeKind = "serviceTask"
	ReceiveTask      NodeKind = "receiveTask"
	ExclusiveGateway NodeKind = "exclusiveGateway"
	ParallelGateway  NodeKind = "parallelGateway"
)

func (k NodeKind) valid() bool {
	switch k {
	case StartEvent, EndEvent, ServiceTask, ReceiveTask, ExclusiveGateway, ParallelGateway:
		return true
	}
	return false
}

// Node is one activity, event or gateway.
type Node struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Kind NodeKind `json:"kind"`
	// Class names the component a service task delegates to.
	Class string `json:"class,omitempty"`
	// Default is the flow an exclusive gateway takes when no condition matches.
	Default string `json:"default,omitempty"`
}

// Flow connects two nodes.
type Flow struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// ProcessDefinition is a parsed and validated process graph.
type ProcessDefinition struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Name    string `json:"name,omitempty"`
	Nodes   []Node `json:"nodes"`
	Flows   []Flow `json:"flows"`

	index    map[string]int
	outgoing map[string][]Flow
	incoming map[string][]Flow
}

// Key identifies a definition version inside a repository.
func Key(id, version string) string {
	return id + ":" + version
}

// Key returns the repository key of def.
func (def *ProcessDefinition) Key() string {
	return Key(def.ID, def.Version)
}

// Clone returns a deep copy with rebuilt indexes.
func (def *ProcessDefinition) Clone() *ProcessDefinition {
	if def == nil {
		return nil
	}
	clone := &ProcessDefinition{ID: def.ID, Version: def.Version, Name: def.Name}
	clone.Nodes = append([]Node(nil), def.Nodes...)
	clone.Flows = append([]Flow(nil), def.Flows...)
	clone.buildIndex()
	return clone
}

// Node returns the node with id.
func (def *ProcessDefinition) Node(id string) (Node, bool) {
	if def.index == nil {
		def.buildIndex()
	}
	idx, ok := def.index[id]
	if !ok {
		return Node{}, false
	}
	return def.Nodes[idx], true
}

// Start returns the single start event.
func (def *ProcessDefinition) Start() Node {
	for _, n := range def.Nodes {
		if n.Kind == StartEvent {
			return n
		}
	}
	return Node{}
}

// Outgoing returns the flows leaving id in document order.
func (def *ProcessDefinition) Outgoing(id string) []Flow {
	if def.outgoing == nil {
		def.buildIndex()
	}
	return def.outgoing[id]
}

// Incoming returns the flows entering id in document order.
func (def *ProcessDefinition) Incoming(id string) []Flow {
	if def.incoming == nil {
		def.buildIndex()
	}
	return def.incoming[id]
}

// Classes returns the sorted, distinct component names used by service tasks.
func (def *ProcessDefinition) Classes() []string {
	seen := map[string]struct{}{}
	for _, n := range def.Nodes {
		if n.Kind == ServiceTask && n.Class != "" {
			seen[n.Class] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (def *ProcessDefinition) buildIndex() {
	def.index = make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		def.index[n.ID] = i
	}
	def.outgoing = map[string][]Flow{}
	def.incoming = map[string][]Flow{}
	for _, f := range def.Flows {
		def.outgoing[f.Source] = append(def.outgoing[f.Source], f)
		def.incoming[f.Target] = append(def.incoming[f.Target], f)
	}
}

// Validate ensures the graph can be executed.
func (def *ProcessDefinition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("definition: id is required")
	}
	if def.Version == "" {
		return fmt.Errorf("definition %s: version is required", def.ID)
	}
	def.buildIndex()
	seen := map[string]struct{}{}
	starts, ends := 0, 0
	for idx, n := range def.Nodes {
		if n.ID == "" {
			return fmt.Errorf("definition %s node[%d]: id is required", def.ID, idx)
		}
		if !n.Kind.valid() {
			return fmt.Errorf("definition %s: node %s has unsupported kind %q", def.ID, n.ID, n.Kind)
		}
		if _, exists := seen[n.ID]; exists {
			return fmt.Errorf("definition %s: duplicate id %s", def.ID, n.ID)
		}
		seen[n.ID] = struct{}{}
		switch n.Kind {
		case StartEvent:
			starts++
		case EndEvent:
			ends++
		case ServiceTask:
			if n.Class == "" {
				return fmt.Errorf("definition %s: service task %s must name a class", def.ID, n.ID)
			}
		}
	}
	if starts != 1 {
		return fmt.Errorf("definition %s: exactly one start event is required, found %d", def.ID, starts)
	}
	if ends == 0 {
		return fmt.Errorf("definition %s: at least one end event is required", def.ID)
	}
	for _, f := range def.Flows {
		if f.ID == "" {
			return fmt.Errorf("definition %s: sequence flow %s -> %s is missing an id", def.ID, f.Source, f.Target)
		}
		if _, exists := seen[f.ID]; exists {
			return fmt.Errorf("definition %s: duplicate id %s", def.ID, f.ID)
		}
		seen[f.ID] = struct{}{}
		if _, ok := def.index[f.Source]; !ok {
			return fmt.Errorf("definition %s: flow %s references unknown source %s", def.ID, f.ID, f.Source)
		}
		if _, ok := def.index[f.Target]; !ok {
			return fmt.Errorf("definition %s: flow %s references unknown target %s", def.ID, f.ID, f.Target)
		}
		if f.Condition != "" {
			if _, err := ParseCondition(f.Condition); err != nil {
				return fmt.Errorf("definition %s: flow %s: %w", def.ID, f.ID, err)
			}
		}
	}
	for _, n := range def.Nodes {
		out, in := def.outgoing[n.ID], def.incoming[n.ID]
		switch {
		case n.Kind == StartEvent && len(in) > 0:
			return fmt.Errorf("definition %s: start event %s cannot have incoming flows", def.ID, n.ID)
		case n.Kind == EndEvent && len(out) > 0:
			return fmt.Errorf("definition %s: end event %s cannot have outgoing flows", def.ID, n.ID)
		case n.Kind != EndEvent && len(out) == 0:
			return fmt.Errorf("definition %s: %s %s has no outgoing flow", def.ID, n.Kind, n.ID)
		}
		if n.Default != "" {
			if n.Kind != ExclusiveGateway {
				return fmt.Errorf("definition %s: only exclusive gateways may declare a default flow (%s)", def.ID, n.ID)
			}
			found := false
			for _, f := range out {
				if f.ID == n.Default {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("definition %s: default flow %s does not leave gateway %s", def.ID, n.Default, n.ID)
			}
		}
	}
	reached := def.reachable()
	for _, n := range def.Nodes {
		if _, ok := reached[n.ID]; !ok {
			return fmt.Errorf("definition %s: node %s is unreachable from the start event", def.ID, n.ID)
		}
	}
	return nil
}

func (def *ProcessDefinition) reachable() map[string]struct{} {
	reached := map[string]struct{}{}
	queue := []string{def.Start().ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := reached[id]; ok {
			continue
		}
		reached[id] = struct{}{}
		for _, f := range def.outgoing[id] {
			queue = append(queue, f.Target)
		}
	}
	return reached
}
