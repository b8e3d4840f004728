package definition

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultVersion is assigned when a document omits the version attribute.
const DefaultVersion = "1.0.0"

type xmlDefinitions struct {
	XMLName   xml.Name     `xml:"definitions"`
	ID        string       `xml:"id,attr"`
	Version   string       `xml:"version,attr"`
	Processes []xmlProcess `xml:"process"`
}

type xmlProcess struct {
	ID       string    `xml:"id,attr"`
	Name     string    `xml:"name,attr"`
	Elements []xmlNode `xml:",any"`
}

type xmlNode struct {
	XMLName   xml.Name
	ID        string     `xml:"id,attr"`
	Name      string     `xml:"name,attr"`
	SourceRef string     `xml:"sourceRef,attr"`
	TargetRef string     `xml:"targetRef,attr"`
	Default   string     `xml:"default,attr"`
	Attrs     []xml.Attr `xml:",any,attr"`
	Condition *struct {
		Body string `xml:",chardata"`
	} `xml:"conditionExpression"`
}

func (n xmlNode) class() string {
	for _, attr := range n.Attrs {
		if attr.Name.Local == "class" {
			return strings.TrimSpace(attr.Value)
		}
	}
	return ""
}

// Parse decodes a process definition document and validates it.
func Parse(r io.Reader) (*ProcessDefinition, error) {
	if r == nil {
		return nil, fmt.Errorf("definition: reader is nil")
	}
	var doc xmlDefinitions
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("definition: decode: %w", err)
	}
	if len(doc.Processes) != 1 {
		return nil, fmt.Errorf("definition: exactly one process element is required, found %d", len(doc.Processes))
	}
	proc := doc.Processes[0]
	def := &ProcessDefinition{
		ID:      strings.TrimSpace(doc.ID),
		Version: strings.TrimSpace(doc.Version),
		Name:    strings.TrimSpace(proc.Name),
	}
	if def.ID == "" {
		def.ID = strings.TrimSpace(proc.ID)
	}
	if def.Version == "" {
		def.Version = DefaultVersion
	}
	for _, el := range proc.Elements {
		kind := el.XMLName.Local
		if kind == "documentation" || kind == "extensionElements" {
			continue
		}
		if kind == "sequenceFlow" {
			flow := Flow{
				ID:     strings.TrimSpace(el.ID),
				Source: strings.TrimSpace(el.SourceRef),
				Target: strings.TrimSpace(el.TargetRef),
			}
			if el.Condition != nil {
				flow.Condition = strings.TrimSpace(el.Condition.Body)
			}
			def.Flows = append(def.Flows, flow)
			continue
		}
		def.Nodes = append(def.Nodes, Node{
			ID:      strings.TrimSpace(el.ID),
			Name:    strings.TrimSpace(el.Name),
			Kind:    NodeKind(kind),
			Class:   el.class(),
			Default: strings.TrimSpace(el.Default),
		})
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ParseBytes parses an in-memory document.
func ParseBytes(data []byte) (*ProcessDefinition, error) {
	return Parse(bytes.NewReader(data))
}

// ParseFile parses the document stored at path.
func ParseFile(path string) (*ProcessDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("definition: open %s: %w", path, err)
	}
	defer f.Close()
	def, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
