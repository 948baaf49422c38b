package manifest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EntityField is the targeting field every service must declare.
const EntityField = "entity_id"

// Manifest is the ordered set of services a plugin exposes to callers.
type Manifest struct {
	Services []ServiceDefinition
}

// ServiceDefinition describes one remote-callable action.
type ServiceDefinition struct {
	Name        string
	Description string
	Fields      []FieldDefinition
}

// FieldDefinition describes one named parameter of a service.
type FieldDefinition struct {
	Name        string
	Description string
	Example     *Example
}

// ExampleKind is the scalar type an example was written as.
type ExampleKind string

const (
	KindString ExampleKind = "string"
	KindInt    ExampleKind = "int"
	KindFloat  ExampleKind = "float"
	KindBool   ExampleKind = "bool"
)

// Example is an illustrative literal. Value keeps the text exactly as written.
type Example struct {
	Value string
	Kind  ExampleKind
}

// Interface returns the example as a typed Go value.
func (e Example) Interface() any {
	switch e.Kind {
	case KindInt:
		if v, err := strconv.ParseInt(e.Value, 0, 64); err == nil {
			return v
		}
	case KindFloat:
		if v, err := strconv.ParseFloat(e.Value, 64); err == nil {
			return v
		}
	case KindBool:
		if v, err := strconv.ParseBool(e.Value); err == nil {
			return v
		}
	}
	return e.Value
}

// Service returns the named service.
func (m *Manifest) Service(name string) (ServiceDefinition, bool) {
	if m == nil {
		return ServiceDefinition{}, false
	}
	for _, svc := range m.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceDefinition{}, false
}

// Names returns service names in declaration order.
func (m *Manifest) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Services))
	for _, svc := range m.Services {
		out = append(out, svc.Name)
	}
	return out
}

// Validate checks structural invariants that hold for every manifest.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	seen := make(map[string]bool, len(m.Services))
	for _, svc := range m.Services {
		if svc.Name == "" {
			return fmt.Errorf("service name is empty")
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service: %s", svc.Name)
		}
		seen[svc.Name] = true
		if strings.TrimSpace(svc.Description) == "" {
			return fmt.Errorf("service %s: description is required", svc.Name)
		}
		if err := svc.validateFields(); err != nil {
			return err
		}
	}
	return nil
}

func (s ServiceDefinition) validateFields() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, field := range s.Fields {
		if field.Name == "" {
			return fmt.Errorf("service %s: field name is empty", s.Name)
		}
		if seen[field.Name] {
			return fmt.Errorf("service %s: duplicate field: %s", s.Name, field.Name)
		}
		seen[field.Name] = true
	}
	if !seen[EntityField] {
		return fmt.Errorf("service %s: missing %s field", s.Name, EntityField)
	}
	return nil
}

// Field returns the named field.
func (s ServiceDefinition) Field(name string) (FieldDefinition, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// FieldNames returns field names in display order.
func (s ServiceDefinition) FieldNames() []string {
	out := make([]string, 0, len(s.Fields))
	for _, field := range s.Fields {
		out = append(out, field.Name)
	}
	return out
}

// UnknownFieldsError reports call data keys a service does not declare.
type UnknownFieldsError struct {
	Service string
	Fields  []string
}

func (e *UnknownFieldsError) Error() string {
	return fmt.Sprintf("service %s: unknown fields: %s", e.Service, strings.Join(e.Fields, ", "))
}

// Conform checks that every key in data is a declared field of the service.
func (s ServiceDefinition) Conform(data map[string]any) error {
	var unknown []string
	for key := range data {
		if _, ok := s.Field(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &UnknownFieldsError{Service: s.Name, Fields: unknown}
}

// Values renders the manifest as JSON-compatible values, keeping order.
// Examples keep the kind they were written as.
func (m *Manifest) Values() []any {
	if m == nil {
		return []any{}
	}
	out := make([]any, 0, len(m.Services))
	for _, svc := range m.Services {
		fields := make([]any, 0, len(svc.Fields))
		for _, field := range svc.Fields {
			entry := map[string]any{
				"name":        field.Name,
				"description": field.Description,
			}
			if field.Example != nil {
				entry["example"] = field.Example.Interface()
			}
			fields = append(fields, entry)
		}
		out = append(out, map[string]any{
			"name":        svc.Name,
			"description": svc.Description,
			"fields":      fields,
		})
	}
	return out
}
