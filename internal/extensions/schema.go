package extensions

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache holds compiled tool input schemas keyed by their raw JSON
// text: a tool's schema rarely changes within a process lifetime, so
// compiling once per distinct schema is enough.
var schemaCache sync.Map

func compileToolSchema(rawSchema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(rawSchema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.input_schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateArguments checks arguments against a tool's advertised
// InputSchema before dispatch. An empty or absent schema is treated as
// "anything goes", since not every extension advertises one.
func validateArguments(rawSchema json.RawMessage, arguments json.RawMessage) error {
	if len(rawSchema) == 0 {
		return nil
	}
	schema, err := compileToolSchema(rawSchema)
	if err != nil {
		return fmt.Errorf("compile tool input_schema: %w", err)
	}

	var decoded any
	if len(arguments) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(arguments, &decoded); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool arguments invalid: %w", err)
	}
	return nil
}
