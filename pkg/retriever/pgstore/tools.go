package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools/builtins"
)

// ToolStore implements the builtin tools' backing stores against the app
// schema: calendar_events, expenses, user_preferences and known_places. It
// shares the retrieval store's pool.
type ToolStore struct {
	store *Store
}

// Tools returns the write-side adapter for the builtin tools.
func (s *Store) Tools() *ToolStore {
	return &ToolStore{store: s}
}

// CreateEvent inserts a calendar event and returns its id.
func (t *ToolStore) CreateEvent(ctx context.Context, userID string, event builtins.CalendarEvent) (string, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("parse user id: %w", err)
	}
	id := uuid.New()
	_, err = t.store.pool.Exec(ctx, `
		INSERT INTO calendar_events (id, user_id, title, starts_at, ends_at, location, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, uid, event.Title, event.Start, event.End, event.Location, event.Notes)
	if err != nil {
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	return id.String(), nil
}

// LogExpense inserts an expense record and returns its id.
func (t *ToolStore) LogExpense(ctx context.Context, userID string, expense builtins.Expense) (string, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("parse user id: %w", err)
	}
	id := uuid.New()
	_, err = t.store.pool.Exec(ctx, `
		INSERT INTO expenses (id, user_id, amount, currency, category, note, spent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, uid, expense.Amount, expense.Currency, expense.Category, expense.Note, expense.SpentAt)
	if err != nil {
		return "", fmt.Errorf("insert expense: %w", err)
	}
	return id.String(), nil
}

// GetPreference reads one preference.
func (t *ToolStore) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return "", false, fmt.Errorf("parse user id: %w", err)
	}
	var value string
	err = t.store.pool.QueryRow(ctx, `
		SELECT value FROM user_preferences WHERE user_id = $1 AND key = $2
	`, uid, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query preference: %w", err)
	}
	return value, true, nil
}

// SetPreference upserts one preference.
func (t *ToolStore) SetPreference(ctx context.Context, userID, key, value string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}
	_, err = t.store.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, uid, key, value)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// roadFactor scales straight-line distance to a drivable estimate.
const roadFactor = 1.3

// cruiseKmh is the assumed average touring speed for duration estimates.
const cruiseKmh = 70.0

// PlanRoute estimates a route between the user's saved places. Distances are
// haversine times a road factor; this is a trip estimate, not turn-by-turn
// navigation.
func (t *ToolStore) PlanRoute(ctx context.Context, req builtins.RouteRequest) (builtins.Route, error) {
	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		return builtins.Route{}, fmt.Errorf("parse user id: %w", err)
	}

	dest, err := t.lookupPlace(ctx, uid, req.Destination)
	if err != nil {
		return builtins.Route{}, err
	}

	var (
		originName string
		originLat  float64
		originLng  float64
	)
	switch {
	case req.Origin != "":
		origin, err := t.lookupPlace(ctx, uid, req.Origin)
		if err != nil {
			return builtins.Route{}, err
		}
		originName, originLat, originLng = origin.name, origin.lat, origin.lng
	case req.From != nil:
		originName = req.From.PlaceName
		if originName == "" {
			originName = "current location"
		}
		originLat, originLng = req.From.Lat, req.From.Lng
	default:
		return builtins.Route{}, errors.New("no origin: session has no location and none was given")
	}

	distance := haversineKm(originLat, originLng, dest.lat, dest.lng) * roadFactor
	duration := int(math.Round(distance / cruiseKmh * 60))

	summary := fmt.Sprintf("%s to %s, about %.0f km", originName, dest.name, distance)
	if len(req.Avoid) > 0 {
		summary += " (estimate only; avoidances not applied)"
	}
	return builtins.Route{
		Summary:     summary,
		DistanceKm:  math.Round(distance*10) / 10,
		DurationMin: duration,
	}, nil
}

type place struct {
	name string
	lat  float64
	lng  float64
}

func (t *ToolStore) lookupPlace(ctx context.Context, userID uuid.UUID, name string) (place, error) {
	var p place
	err := t.store.pool.QueryRow(ctx, `
		SELECT name, lat, lng
		FROM known_places
		WHERE user_id = $1 AND name ILIKE '%' || $2 || '%'
		ORDER BY length(name)
		LIMIT 1
	`, userID, name).Scan(&p.name, &p.lat, &p.lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return place{}, fmt.Errorf("no saved place matching %q", name)
	}
	if err != nil {
		return place{}, fmt.Errorf("query place: %w", err)
	}
	return p, nil
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
