package extensions

import (
	"encoding/json"
	"testing"
)

func TestValidateArgumentsNilSchemaAllowsAnything(t *testing.T) {
	if err := validateArguments(nil, json.RawMessage(`{"anything":true}`)); err != nil {
		t.Fatalf("want nil schema to allow any arguments, got %v", err)
	}
}

func TestValidateArgumentsRejectsMissingRequiredField(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
	if err := validateArguments(schema, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("want error for arguments missing a required field")
	}
}

func TestValidateArgumentsAcceptsConformingArguments(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
	if err := validateArguments(schema, json.RawMessage(`{"query":"hello"}`)); err != nil {
		t.Fatalf("want conforming arguments to validate, got %v", err)
	}
}

func TestCompileToolSchemaCachesBySchemaText(t *testing.T) {
	schema := json.RawMessage(`{"type":"object"}`)
	first, err := compileToolSchema(schema)
	if err != nil {
		t.Fatalf("compileToolSchema: %v", err)
	}
	second, err := compileToolSchema(schema)
	if err != nil {
		t.Fatalf("compileToolSchema: %v", err)
	}
	if first != second {
		t.Fatalf("want identical schema text to return the cached compiled schema")
	}
}
