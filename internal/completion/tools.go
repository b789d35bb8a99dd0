package completion

import "encoding/json"

func toolCatalog() []toolSpec {
	return []toolSpec{
		{
			Type: "function",
			Function: toolFunction{
				Name:        string(ToolFetchContext),
				Description: "Fetch a static block of studio information to answer a visitor question.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"context_type": {
							"type": "string",
							"enum": ["services", "pricing", "process", "company"],
							"description": "Which information block the reply needs."
						}
					},
					"required": ["context_type"]
				}`),
			},
		},
		{
			Type: "function",
			Function: toolFunction{
				Name:        string(ToolUpdateProfile),
				Description: "Record anything the visitor revealed about themselves or their project.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"company": {"type": "string"},
						"industry": {"type": "string"},
						"project_types": {"type": "array", "items": {"type": "string"}},
						"budget": {"type": "string"},
						"timeline": {"type": "string"},
						"contact_info": {"type": "string"},
						"pain_points": {"type": "array", "items": {"type": "string"}},
						"current_tech": {"type": "array", "items": {"type": "string"}},
						"additional_notes": {"type": "string", "maxLength": 100}
					}
				}`),
			},
		},
		{
			Type: "function",
			Function: toolFunction{
				Name:        string(ToolEscalateContact),
				Description: "The visitor explicitly asked to talk to a person; open the contact workflow.",
				Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			},
		},
	}
}
