package templates

import "github.com/aescanero/dago-studio/internal/domain"

var (
	flowIn  = Port{Name: "in", DataType: domain.DataTypeFlow}
	flowOut = Port{Name: "out", DataType: domain.DataTypeFlow}
)

func builtinTemplates() []Template {
	return []Template{
		// Triggers
		{
			Type:     "trigger",
			Category: domain.CategoryTrigger,
			Label:    "Manual Trigger",
			Outputs:  []Port{flowOut},
		},
		{
			Type:     "schedule_trigger",
			Category: domain.CategoryTrigger,
			Label:    "Schedule",
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"cron": "0 * * * *", "timezone": "UTC"},
		},
		{
			Type:     "hotkey_trigger",
			Category: domain.CategoryTrigger,
			Label:    "Hotkey",
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"keys": "ctrl+shift+r"},
		},
		{
			Type:     "webhook_trigger",
			Category: domain.CategoryTrigger,
			Label:    "Webhook",
			Outputs:  []Port{flowOut, {Name: "payload", DataType: domain.DataTypeObject}},
			Defaults: map[string]any{"path": "/hooks/run", "method": "POST"},
		},

		// Actions
		{
			Type:     "click",
			Category: domain.CategoryAction,
			Label:    "Click",
			Inputs:   []Port{flowIn, {Name: "target", DataType: domain.DataTypePoint}},
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"button": "left", "clicks": 1, "x": 0, "y": 0},
		},
		{
			Type:     "type_text",
			Category: domain.CategoryAction,
			Label:    "Type Text",
			Inputs:   []Port{flowIn, {Name: "text", DataType: domain.DataTypeString}},
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"text": "", "interval_ms": 50},
		},
		{
			Type:     "key_press",
			Category: domain.CategoryAction,
			Label:    "Key Press",
			Inputs:   []Port{flowIn},
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"keys": "enter"},
		},
		{
			Type:     "scroll",
			Category: domain.CategoryAction,
			Label:    "Scroll",
			Inputs:   []Port{flowIn},
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"direction": "down", "amount": 3},
		},
		{
			Type:     "screenshot",
			Category: domain.CategoryAction,
			Label:    "Screenshot",
			Inputs:   []Port{flowIn},
			Outputs:  []Port{flowOut, {Name: "image", DataType: domain.DataTypeImage}},
			Defaults: map[string]any{"region": "full", "format": "png"},
		},
		{
			Type:     "ocr",
			Category: domain.CategoryAction,
			Label:    "Read Text (OCR)",
			Inputs:   []Port{flowIn, {Name: "image", DataType: domain.DataTypeImage}},
			Outputs:  []Port{flowOut, {Name: "text", DataType: domain.DataTypeString}},
			Defaults: map[string]any{"language": "eng", "confidence": 0.8},
		},
		{
			Type:     "find_image",
			Category: domain.CategoryAction,
			Label:    "Find Image",
			Inputs:   []Port{flowIn, {Name: "image", DataType: domain.DataTypeImage}},
			Outputs: []Port{
				flowOut,
				{Name: "location", DataType: domain.DataTypePoint},
				{Name: "found", DataType: domain.DataTypeBoolean},
			},
			Defaults: map[string]any{"template_path": "", "threshold": 0.9, "timeout_ms": 5000},
		},

		// Logic
		{
			Type:     "condition",
			Category: domain.CategoryLogic,
			Label:    "Condition",
			Inputs:   []Port{flowIn, {Name: "value", DataType: domain.DataTypeAny}},
			Outputs: []Port{
				{Name: "true", DataType: domain.DataTypeFlow},
				{Name: "false", DataType: domain.DataTypeFlow},
			},
			Defaults: map[string]any{"operator": "equals", "expression": ""},
		},
		{
			Type:     "loop",
			Category: domain.CategoryLogic,
			Label:    "Loop",
			Inputs:   []Port{flowIn, {Name: "items", DataType: domain.DataTypeArray}},
			Outputs: []Port{
				flowOut,
				{Name: "body", DataType: domain.DataTypeFlow},
				{Name: "item", DataType: domain.DataTypeAny},
			},
			Defaults: map[string]any{"max_iterations": 10},
		},
		{
			Type:     "wait",
			Category: domain.CategoryLogic,
			Label:    "Wait",
			Inputs:   []Port{flowIn},
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"duration_ms": 1000},
		},

		// Data
		{
			Type:     "set_variable",
			Category: domain.CategoryData,
			Label:    "Set Variable",
			Inputs:   []Port{flowIn, {Name: "value", DataType: domain.DataTypeAny}},
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"name": "", "scope": "workflow"},
		},
		{
			Type:     "transform",
			Category: domain.CategoryData,
			Label:    "Transform",
			Inputs:   []Port{flowIn, {Name: "input", DataType: domain.DataTypeAny}},
			Outputs:  []Port{flowOut, {Name: "output", DataType: domain.DataTypeAny}},
			Defaults: map[string]any{"expression": "", "language": "jq"},
		},
		{
			Type:     "http_request",
			Category: domain.CategoryData,
			Label:    "HTTP Request",
			Inputs:   []Port{flowIn, {Name: "body", DataType: domain.DataTypeObject}},
			Outputs: []Port{
				flowOut,
				{Name: "response", DataType: domain.DataTypeObject},
				{Name: "status", DataType: domain.DataTypeNumber},
			},
			Defaults: map[string]any{"method": "GET", "url": "", "timeout_ms": 30000},
		},
		{
			Type:     "log",
			Category: domain.CategoryData,
			Label:    "Log",
			Inputs:   []Port{flowIn, {Name: "message", DataType: domain.DataTypeAny}},
			Outputs:  []Port{flowOut},
			Defaults: map[string]any{"level": "info"},
		},
	}
}
