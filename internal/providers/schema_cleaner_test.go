package providers

import (
	"testing"
)

func TestCleanToolSchemasGemini(t *testing.T) {
	tools := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        "delegate_work",
			Description: "hand a task to another agent",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task": map[string]interface{}{
						"type":    "string",
						"default": "",
					},
					"priority": map[string]interface{}{
						"anyOf": []interface{}{
							map[string]interface{}{"type": "string", "$ref": "#/$defs/Priority"},
							map[string]interface{}{"type": "integer", "examples": []interface{}{1}},
						},
					},
				},
				"$defs":                map[string]interface{}{"Priority": "x"},
				"additionalProperties": false,
			},
		},
	}}

	cleaned := CleanToolSchemas("gemini", tools)
	if len(cleaned) != 1 {
		t.Fatalf("len(cleaned) = %d, want 1", len(cleaned))
	}

	params := cleaned[0].Function.Parameters
	for _, key := range []string{"$defs", "additionalProperties"} {
		if _, ok := params[key]; ok {
			t.Errorf("key %q survived cleaning", key)
		}
	}
	if _, ok := params["type"]; !ok {
		t.Error("top-level type was removed")
	}

	props := params["properties"].(map[string]interface{})
	task := props["task"].(map[string]interface{})
	if _, ok := task["default"]; ok {
		t.Error("nested default survived cleaning")
	}

	anyOf := props["priority"].(map[string]interface{})["anyOf"].([]interface{})
	if _, ok := anyOf[0].(map[string]interface{})["$ref"]; ok {
		t.Error("$ref inside anyOf survived cleaning")
	}
	if _, ok := anyOf[1].(map[string]interface{})["examples"]; ok {
		t.Error("examples inside anyOf survived cleaning")
	}

	// Original must be untouched.
	orig := tools[0].Function.Parameters
	if _, ok := orig["$defs"]; !ok {
		t.Error("cleaning mutated the original schema")
	}
}

func TestCleanToolSchemasAnthropicKeepsAdditionalProperties(t *testing.T) {
	tools := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionSchema{
			Name: "report_out",
			Parameters: map[string]interface{}{
				"type":                 "object",
				"$defs":                map[string]interface{}{},
				"additionalProperties": false,
				"default":              "keep",
			},
		},
	}}

	params := CleanToolSchemas("anthropic", tools)[0].Function.Parameters
	if _, ok := params["$defs"]; ok {
		t.Error("$defs survived anthropic cleaning")
	}
	if _, ok := params["additionalProperties"]; !ok {
		t.Error("additionalProperties should survive anthropic cleaning")
	}
	if _, ok := params["default"]; !ok {
		t.Error("default should survive anthropic cleaning")
	}
}

func TestCleanToolSchemasPassthrough(t *testing.T) {
	tools := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:       "echo",
			Parameters: map[string]interface{}{"$ref": "#/x"},
		},
	}}

	cleaned := CleanToolSchemas("openai", tools)
	if _, ok := cleaned[0].Function.Parameters["$ref"]; !ok {
		t.Error("openai cleaning should leave schemas unchanged")
	}

	if got := CleanToolSchemas("gemini", nil); got != nil {
		t.Errorf("CleanToolSchemas(gemini, nil) = %v, want nil", got)
	}
}
