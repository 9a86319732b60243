package prefilter

import (
	"log/slog"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// DefaultMinPrefixLen guards voice prefix matching: shared prefixes shorter
// than this never count as a match.
const DefaultMinPrefixLen = 4

// Options configure the filter.
type Options struct {
	// BaselineCategories are always included so vague utterances still
	// reach a functional engine.
	BaselineCategories []string

	// VoiceNeighbors lists categories to pull in alongside a matched one
	// when the session is voice. Voice commands are short and vague, and
	// neighboring intents (plan a trip, log the fuel stop) arrive in one
	// breath.
	VoiceNeighbors map[string][]string

	MinPrefixLen int
	Logger       *slog.Logger
}

// Filter narrows tool catalogs by utterance.
type Filter struct {
	baseline  map[string]struct{}
	neighbors map[string][]string
	minPrefix int
	logger    *slog.Logger
}

// New creates a filter.
func New(opts Options) *Filter {
	if opts.MinPrefixLen <= 0 {
		opts.MinPrefixLen = DefaultMinPrefixLen
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	baseline := make(map[string]struct{}, len(opts.BaselineCategories))
	for _, cat := range opts.BaselineCategories {
		baseline[cat] = struct{}{}
	}
	return &Filter{
		baseline:  baseline,
		neighbors: opts.VoiceNeighbors,
		minPrefix: opts.MinPrefixLen,
		logger:    opts.Logger,
	}
}

// Narrow returns the subset of the catalog the utterance plausibly needs,
// in catalog order. A voice session widens the text-mode result and never
// shrinks it: the voice result is computed as the text result plus voice
// extras. When nothing matches and no baseline applies, the full catalog is
// returned; a wide catalog beats a broken turn.
func (f *Filter) Narrow(catalog []tools.Definition, utterance string, rctx types.RuntimeContext) []tools.Definition {
	words := Words(utterance)
	joined := " " + strings.Join(words, " ") + " "

	strict := f.strictCategories(catalog, joined)

	include := make(map[string]struct{}, len(strict)+len(f.baseline))
	for cat := range strict {
		include[cat] = struct{}{}
	}
	for cat := range f.baseline {
		include[cat] = struct{}{}
	}

	result := defsIn(catalog, include)
	full := len(result) == 0
	if full {
		result = append([]tools.Definition(nil), catalog...)
	}

	if rctx.IsVoice && !full {
		voice := f.voiceCategories(catalog, words, strict)
		for cat := range voice {
			if _, ok := include[cat]; !ok {
				include[cat] = struct{}{}
			}
		}
		result = defsIn(catalog, include)
	}

	f.logger.Debug("tool catalog narrowed",
		"catalog", len(catalog),
		"narrowed", len(result),
		"fallback", full,
		"is_voice", rctx.IsVoice,
	)
	return result
}

// strictCategories matches whole normalized keywords against the utterance.
func (f *Filter) strictCategories(catalog []tools.Definition, joined string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, def := range catalog {
		for _, kw := range def.Keywords {
			n := Normalize(kw)
			if n == "" {
				continue
			}
			if strings.Contains(joined, " "+n+" ") {
				out[def.Category] = struct{}{}
				break
			}
		}
	}
	return out
}

// voiceCategories computes the voice-only extras: prefix keyword matches and
// configured neighbors of anything matched.
func (f *Filter) voiceCategories(catalog []tools.Definition, words []string, strict map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, def := range catalog {
		if _, ok := out[def.Category]; ok {
			continue
		}
	match:
		for _, kw := range def.Keywords {
			n := Normalize(kw)
			if n == "" || strings.Contains(n, " ") {
				continue
			}
			for _, w := range words {
				if sharedPrefix(w, n, f.minPrefix) {
					out[def.Category] = struct{}{}
					break match
				}
			}
		}
	}
	// One hop of neighbors, never transitive.
	extra := make(map[string]struct{})
	for cat := range strict {
		for _, n := range f.neighbors[cat] {
			extra[n] = struct{}{}
		}
	}
	for cat := range out {
		for _, n := range f.neighbors[cat] {
			extra[n] = struct{}{}
		}
	}
	for cat := range extra {
		out[cat] = struct{}{}
	}
	return out
}

// sharedPrefix reports whether one string is a prefix of the other and the
// shared part is long enough to mean something.
func sharedPrefix(a, b string, min int) bool {
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	return len(shorter) >= min && strings.HasPrefix(longer, shorter)
}

func defsIn(catalog []tools.Definition, categories map[string]struct{}) []tools.Definition {
	var out []tools.Definition
	for _, def := range catalog {
		if _, ok := categories[def.Category]; ok {
			out = append(out, def)
		}
	}
	return out
}
