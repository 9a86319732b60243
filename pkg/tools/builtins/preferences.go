package builtins

import (
	"context"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// PreferenceStore holds the user's durable key-value preferences.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID, key string) (value string, found bool, err error)
	SetPreference(ctx context.Context, userID, key, value string) error
}

// PreferencesGet reads one durable preference.
type PreferencesGet struct {
	Store PreferenceStore
}

func (t *PreferencesGet) Name() string { return ToolPreferencesGet }

func (t *PreferencesGet) Definition() tools.Definition {
	return tools.Definition{
		Name:        ToolPreferencesGet,
		Description: "Look up one of the user's saved preferences by key.",
		Category:    "preferences",
		Keywords:    preferenceKeywords,
		InputSchema: &types.JSONSchema{
			Type: "object",
			Properties: map[string]types.JSONSchema{
				"key": {Type: "string", Description: "Preference name, such as preferred_fuel_brand"},
			},
			Required: []string{"key"},
		},
	}
}

func (t *PreferencesGet) Execute(ctx context.Context, args map[string]any, rctx types.RuntimeContext) (map[string]any, error) {
	key := stringArg(args, "key")
	if key == "" {
		return nil, core.NewValidationError("key must be non-empty", "key")
	}
	value, found, err := t.Store.GetPreference(ctx, rctx.UserID, key)
	if err != nil {
		return nil, storeErr("could not read that preference", err)
	}
	return map[string]any{
		"key":   key,
		"value": value,
		"found": found,
	}, nil
}

// PreferencesSet saves one durable preference.
type PreferencesSet struct {
	Store PreferenceStore
}

func (t *PreferencesSet) Name() string { return ToolPreferencesSet }

func (t *PreferencesSet) Definition() tools.Definition {
	return tools.Definition{
		Name:        ToolPreferencesSet,
		Description: "Save one of the user's preferences so future sessions remember it.",
		Category:    "preferences",
		Keywords:    preferenceKeywords,
		InputSchema: &types.JSONSchema{
			Type: "object",
			Properties: map[string]types.JSONSchema{
				"key":   {Type: "string", Description: "Preference name"},
				"value": {Type: "string", Description: "Preference value"},
			},
			Required: []string{"key", "value"},
		},
	}
}

func (t *PreferencesSet) Execute(ctx context.Context, args map[string]any, rctx types.RuntimeContext) (map[string]any, error) {
	key := stringArg(args, "key")
	if key == "" {
		return nil, core.NewValidationError("key must be non-empty", "key")
	}
	value := stringArg(args, "value")
	if value == "" {
		return nil, core.NewValidationError("value must be non-empty", "value")
	}
	if err := t.Store.SetPreference(ctx, rctx.UserID, key, value); err != nil {
		return nil, storeErr("could not save that preference", err)
	}
	return map[string]any{
		"key":   key,
		"value": value,
	}, nil
}

var preferenceKeywords = []string{
	"prefer", "preference", "setting", "settings", "remember",
	"default", "always", "usually",
}
