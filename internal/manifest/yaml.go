package manifest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a services manifest. Service and field order follow the document.
func Parse(data []byte) (*Manifest, error) {
	if err := checkSchema(data); err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return &Manifest{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("manifest line %d: expected mapping of services", root.Line)
	}

	m := &Manifest{}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		if seen[name] {
			return nil, fmt.Errorf("manifest line %d: duplicate service %s", root.Content[i].Line, name)
		}
		seen[name] = true

		svc, err := parseService(name, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		m.Services = append(m.Services, svc)
	}
	return m, nil
}

func parseService(name string, node *yaml.Node) (ServiceDefinition, error) {
	svc := ServiceDefinition{Name: name}
	if node.Kind != yaml.MappingNode {
		return svc, fmt.Errorf("service %s line %d: expected mapping", name, node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "description":
			svc.Description = value.Value
		case "fields":
			fields, err := parseFields(name, value)
			if err != nil {
				return svc, err
			}
			svc.Fields = fields
		}
	}
	return svc, nil
}

func parseFields(service string, node *yaml.Node) ([]FieldDefinition, error) {
	if node.ShortTag() == "!!null" {
		return nil, nil
	}

	var fields []FieldDefinition
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if seen[name] {
			return nil, fmt.Errorf("service %s line %d: duplicate field %s", service, node.Content[i].Line, name)
		}
		seen[name] = true

		field := FieldDefinition{Name: name}
		body := node.Content[i+1]
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, value := body.Content[j], body.Content[j+1]
			switch key.Value {
			case "description":
				field.Description = value.Value
			case "example":
				example, err := parseExample(value)
				if err != nil {
					return nil, fmt.Errorf("service %s field %s: %w", service, name, err)
				}
				field.Example = example
			}
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func parseExample(node *yaml.Node) (*Example, error) {
	if node.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("line %d: example must be a scalar", node.Line)
	}
	switch node.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!int":
		return &Example{Value: node.Value, Kind: KindInt}, nil
	case "!!float":
		return &Example{Value: node.Value, Kind: KindFloat}, nil
	case "!!bool":
		return &Example{Value: node.Value, Kind: KindBool}, nil
	default:
		return &Example{Value: node.Value, Kind: KindString}, nil
	}
}

// Marshal encodes the manifest back into its YAML form.
func (m *Manifest) Marshal() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, svc := range m.Services {
		body := &yaml.Node{Kind: yaml.MappingNode}
		body.Content = append(body.Content, scalar("description"), text(svc.Description))

		if len(svc.Fields) > 0 {
			fields := &yaml.Node{Kind: yaml.MappingNode}
			for _, field := range svc.Fields {
				fieldBody := &yaml.Node{Kind: yaml.MappingNode}
				fieldBody.Content = append(fieldBody.Content, scalar("description"), text(field.Description))
				if field.Example != nil {
					fieldBody.Content = append(fieldBody.Content, scalar("example"), exampleNode(*field.Example))
				}
				fields.Content = append(fields.Content, scalar(field.Name), fieldBody)
			}
			body.Content = append(body.Content, scalar("fields"), fields)
		}

		root.Content = append(root.Content, scalar(svc.Name), body)
	}

	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return out, nil
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func text(value string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	if strings.Contains(value, "\n") {
		node.Style = yaml.LiteralStyle
	} else {
		node.Style = yaml.DoubleQuotedStyle
	}
	return node
}

func exampleNode(e Example) *yaml.Node {
	switch e.Kind {
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: e.Value}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: e.Value}
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: e.Value}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Value, Style: yaml.DoubleQuotedStyle}
	}
}
