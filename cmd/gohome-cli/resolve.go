package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "climate.")
	replacer := strings.NewReplacer(" ", "_", "-", "_", "__", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	for label, id := range options {
		if normalizeName(label) == needle {
			return id, nil
		}
	}
	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}

// resolveEntity maps a thermostat name or device id to its entity id so
// typos fail here with the list of known thermostats.
func resolveEntity(ctx context.Context, input string) (string, error) {
	if strings.EqualFold(input, "all") || strings.Contains(input, ",") {
		return input, nil
	}
	resp, err := invokeSkyport(ctx, "ListThermostats", nil)
	if err != nil {
		return "", err
	}
	options := make(map[string]string)
	for _, item := range list(resp["thermostats"]) {
		t := object(item)
		entity := text(t["entity_id"])
		options[text(t["name"])] = entity
		options[text(t["id"])] = entity
	}
	return resolveNamedID("thermostat", input, options)
}

// parseFields turns key=value arguments into call data. Values are typed
// the way they read: numbers, booleans, then text.
func parseFields(args []string) (map[string]any, error) {
	data := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		data[key] = parseValue(value)
	}
	return data, nil
}

func parseValue(value string) any {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
