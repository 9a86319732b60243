package types

import "time"

// Depth selects how much retrieval work the Context Retriever performs for a
// turn, trading recall for latency.
type Depth string

const (
	DepthMinimal  Depth = "minimal"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ParseDepth returns the depth named by s, defaulting to standard for
// unknown or empty values.
func ParseDepth(s string) Depth {
	switch Depth(s) {
	case DepthMinimal, DepthStandard, DepthDeep:
		return Depth(s)
	default:
		return DepthStandard
	}
}

// RetrievedTurn is one prior conversation turn surfaced by retrieval. Score
// is the similarity score for similarity results and zero for recency
// results.
type RetrievedTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score,omitempty"`
}

// Preference is one durable user preference.
type Preference struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ContextBundle is the retrieval output for one turn: recent turns, similar
// past turns, durable preferences, a bounded textual summary, and a
// confidence score. It is derived data, recomputed per turn and never
// persisted.
type ContextBundle struct {
	RecentTurns  []RetrievedTurn `json:"recent_turns"`
	SimilarTurns []RetrievedTurn `json:"similar_turns"`
	Preferences  []Preference    `json:"preferences"`
	Summary      string          `json:"summary"`
	Confidence   float64         `json:"confidence"`
}

// EmptyBundle is the degraded bundle returned when the retrieval backend is
// unavailable: the turn proceeds without enrichment.
func EmptyBundle() ContextBundle {
	return ContextBundle{Confidence: 0}
}

// Empty reports whether the bundle carries no retrieved data.
func (b ContextBundle) Empty() bool {
	return len(b.RecentTurns) == 0 && len(b.SimilarTurns) == 0 && len(b.Preferences) == 0
}

// Location is an optional coordinate pair plus named place.
type Location struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	PlaceName string  `json:"place_name,omitempty"`
}

// RuntimeContext carries the ambient facts injected into every
// reasoning-engine call for a session. IsVoice relaxes the safety
// prefilter's matching, since voice commands are shorter and vaguer than
// typed ones and cannot easily be re-issued.
type RuntimeContext struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Language    string    `json:"language,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	IsVoice     bool      `json:"is_voice"`
}
