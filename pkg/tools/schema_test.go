package tools

import (
	"errors"
	"testing"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

func boolPtr(b bool) *bool { return &b }

func eventSchema() *types.JSONSchema {
	return &types.JSONSchema{
		Type: "object",
		Properties: map[string]types.JSONSchema{
			"title":    {Type: "string"},
			"start":    {Type: "string"},
			"priority": {Type: "string", Enum: []string{"low", "normal", "high"}},
			"guests":   {Type: "integer"},
			"cost":     {Type: "number"},
			"all_day":  {Type: "boolean"},
			"tags":     {Type: "array", Items: &types.JSONSchema{Type: "string"}},
			"place": {Type: "object", Properties: map[string]types.JSONSchema{
				"name": {Type: "string"},
			}, Required: []string{"name"}},
		},
		Required: []string{"title", "start"},
	}
}

func TestValidateArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      map[string]any
		wantParam string
	}{
		{
			name: "valid full",
			args: map[string]any{
				"title": "Dentist", "start": "2026-08-26T15:00",
				"priority": "high", "guests": float64(2), "cost": 120.5,
				"all_day": false, "tags": []any{"health"},
				"place": map[string]any{"name": "Smile Clinic"},
			},
		},
		{
			name:      "missing required",
			args:      map[string]any{"title": "Dentist"},
			wantParam: "start",
		},
		{
			name:      "wrong type",
			args:      map[string]any{"title": 42, "start": "x"},
			wantParam: "title",
		},
		{
			name:      "enum violation",
			args:      map[string]any{"title": "t", "start": "s", "priority": "urgent"},
			wantParam: "priority",
		},
		{
			name:      "fractional integer",
			args:      map[string]any{"title": "t", "start": "s", "guests": 1.5},
			wantParam: "guests",
		},
		{
			name: "integer as whole float",
			args: map[string]any{"title": "t", "start": "s", "guests": float64(3)},
		},
		{
			name: "number from native int",
			args: map[string]any{"title": "t", "start": "s", "cost": 40},
		},
		{
			name:      "bad array item",
			args:      map[string]any{"title": "t", "start": "s", "tags": []any{"ok", 7}},
			wantParam: "tags[1]",
		},
		{
			name:      "nested required",
			args:      map[string]any{"title": "t", "start": "s", "place": map[string]any{}},
			wantParam: "place.name",
		},
		{
			name: "undeclared field allowed by default",
			args: map[string]any{"title": "t", "start": "s", "extra": "x"},
		},
	}

	schema := eventSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(schema, tt.args)
			if tt.wantParam == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ce *core.Error
			if !errors.As(err, &ce) {
				t.Fatalf("expected core error, got %T", err)
			}
			if ce.Type != core.ErrValidation {
				t.Errorf("expected validation_error, got %s", ce.Type)
			}
			if ce.Param != tt.wantParam {
				t.Errorf("expected param %q, got %q", tt.wantParam, ce.Param)
			}
		})
	}
}

func TestValidateArgsClosedObject(t *testing.T) {
	t.Parallel()

	schema := &types.JSONSchema{
		Type: "object",
		Properties: map[string]types.JSONSchema{
			"key": {Type: "string"},
		},
		AdditionalProperties: boolPtr(false),
	}
	if err := ValidateArgs(schema, map[string]any{"key": "a", "rogue": 1}); err == nil {
		t.Fatal("expected rejection of undeclared field")
	}
	if err := ValidateArgs(schema, map[string]any{"key": "a"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateArgsNilSchemaAndArgs(t *testing.T) {
	t.Parallel()

	if err := ValidateArgs(nil, map[string]any{"anything": true}); err != nil {
		t.Fatalf("expected nil schema to accept, got %v", err)
	}
	schema := &types.JSONSchema{Type: "object", Required: []string{"key"}}
	if err := ValidateArgs(schema, nil); err == nil {
		t.Fatal("expected nil args to fail required check")
	}
}
