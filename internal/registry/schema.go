package registry

import (
	"github.com/vinayprograms/benchagent/internal/action"
	"github.com/vinayprograms/benchagent/internal/llmcall"
)

// LeafReport is the answer of a leaf agent.
type LeafReport struct {
	Report string `json:"report"`
}

var reportSchema = llmcall.Schema{
	Name:        "ProductExplorerResponse",
	Description: "findings answering the task",
	Definition: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"report": map[string]interface{}{
				"type":        "string",
				"description": "Findings answering the task. Include SKUs, names, prices, stock. If not found, explain why.",
			},
		},
		"required": []string{"report"},
	},
}

func decisionSchema(name string, tools []string, batch bool) llmcall.Schema {
	function := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tool": map[string]interface{}{"type": "string", "enum": tools},
		},
		"required":             []string{"tool"},
		"additionalProperties": true,
	}
	modes := []string{string(action.CallSingle)}
	call := map[string]interface{}{
		"call_mode": map[string]interface{}{"type": "string", "enum": modes},
		"function":  function,
	}
	if batch {
		call["call_mode"] = map[string]interface{}{
			"type": "string",
			"enum": append(modes, string(action.CallBatch)),
		}
		call["functions"] = map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"maxItems": action.MaxBatch,
			"items":    function,
		}
	}

	return llmcall.Schema{
		Name:        name,
		Description: "the next step of the plan",
		Definition: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"current_state": map[string]interface{}{"type": "string"},
				"remaining_work": map[string]interface{}{
					"type":     "array",
					"items":    map[string]interface{}{"type": "string"},
					"maxItems": action.MaxRemainingWork,
				},
				"next_action": map[string]interface{}{"type": "string"},
				"call": map[string]interface{}{
					"type":       "object",
					"properties": call,
					"required":   []string{"call_mode"},
				},
			},
			"required": []string{"current_state", "remaining_work", "next_action", "call"},
		},
	}
}
