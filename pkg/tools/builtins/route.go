package builtins

import (
	"context"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// RoutePlanner computes drivable routes.
type RoutePlanner interface {
	PlanRoute(ctx context.Context, req RouteRequest) (Route, error)
}

// RouteRequest describes the trip to plan. Origin is free text; when empty,
// From carries the user's current location if the session knows it.
type RouteRequest struct {
	UserID      string
	Origin      string
	From        *types.Location
	Destination string
	Avoid       []string
}

// Route is a planned trip.
type Route struct {
	Summary     string
	DistanceKm  float64
	DurationMin int
}

// RoutePlan plans a driving route to a destination.
type RoutePlan struct {
	Planner RoutePlanner
}

func (t *RoutePlan) Name() string { return ToolRoutePlan }

func (t *RoutePlan) Definition() tools.Definition {
	return tools.Definition{
		Name:        ToolRoutePlan,
		Description: "Plan a driving route. Requires a destination; origin defaults to the user's current location.",
		Category:    "travel",
		Keywords: []string{
			"route", "drive", "driving", "trip", "directions", "navigate",
			"road", "camp", "campsite", "caravan", "travel",
		},
		InputSchema: &types.JSONSchema{
			Type: "object",
			Properties: map[string]types.JSONSchema{
				"destination": {Type: "string", Description: "Where to go"},
				"origin":      {Type: "string", Description: "Where to start; defaults to the current location"},
				"avoid": {
					Type:        "array",
					Description: "Road features to avoid",
					Items:       &types.JSONSchema{Type: "string", Enum: []string{"tolls", "highways", "ferries", "unsealed"}},
				},
			},
			Required: []string{"destination"},
		},
	}
}

func (t *RoutePlan) Execute(ctx context.Context, args map[string]any, rctx types.RuntimeContext) (map[string]any, error) {
	destination := stringArg(args, "destination")
	if destination == "" {
		return nil, core.NewValidationError("destination must be non-empty", "destination")
	}

	route, err := t.Planner.PlanRoute(ctx, RouteRequest{
		UserID:      rctx.UserID,
		Origin:      stringArg(args, "origin"),
		From:        rctx.Location,
		Destination: destination,
		Avoid:       stringSliceArg(args, "avoid"),
	})
	if err != nil {
		return nil, storeErr("could not plan a route to "+destination, err)
	}
	return map[string]any{
		"summary":          route.Summary,
		"distance_km":      route.DistanceKm,
		"duration_minutes": route.DurationMin,
	}, nil
}
