package retriever

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// maxLineChars bounds a single summary line so one rambling turn cannot eat
// the whole budget.
const maxLineChars = 140

// buildSummary condenses the retrieved sections into a deterministic plain
// text block under maxChars: recent turns first, then similar turns by
// rank, then preferences. Truncation happens at line boundaries only.
func buildSummary(recent, similar []types.RetrievedTurn, prefs []types.Preference, maxChars int) string {
	var lines []string
	if len(recent) > 0 {
		lines = append(lines, "Recent conversation:")
		for _, t := range recent {
			lines = append(lines, turnLine(t))
		}
	}
	if len(similar) > 0 {
		lines = append(lines, "Related earlier moments:")
		for _, t := range similar {
			lines = append(lines, turnLine(t))
		}
	}
	if len(prefs) > 0 {
		lines = append(lines, "Saved preferences:")
		for _, p := range prefs {
			lines = append(lines, fmt.Sprintf("- %s: %s", p.Key, p.Value))
		}
	}

	var b strings.Builder
	for _, line := range lines {
		need := len(line)
		if b.Len() > 0 {
			need++
		}
		if b.Len()+need > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func turnLine(t types.RetrievedTurn) string {
	text := strings.Join(strings.Fields(t.Text), " ")
	if len(text) > maxLineChars {
		cut := maxLineChars - 3
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return fmt.Sprintf("- %s: %s", t.Role, text)
}
