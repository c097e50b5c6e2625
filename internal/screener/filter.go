package screener

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// passesBasicFilter applies the zero-network-cost checks to one market. The
// returned reason names the first failed check, for debug logging.
func passesBasicFilter(m domain.Market, c Criteria, now time.Time) (bool, string) {
	if m.Resolved {
		return false, "resolved"
	}

	// High-conviction band: one side must bid at or above the edge. A market
	// with both sides inside the band has no conviction to fade.
	if m.YesOdds < c.MinOdds && m.NoOdds < c.MinOdds {
		return false, "outside high-conviction band"
	}

	// Degenerate pricing: a side at effectively 100% leaves no profit.
	if m.YesOdds >= c.MaxDegenerateOdds || m.NoOdds >= c.MaxDegenerateOdds {
		return false, "degenerate pricing"
	}

	days := m.DaysToClose(now)
	if days <= 0 {
		return false, "already past close"
	}
	if days > c.MaxDaysToResolution {
		return false, fmt.Sprintf("resolves in %.1f days", days)
	}

	if m.Volume24H < c.MinVolume24H {
		return false, "volume too low"
	}
	if m.OpenInterest < c.MinOpenInterest {
		return false, "open interest too low"
	}

	if !isSingleProposition(m.Question) {
		return false, "multi-clause question"
	}

	return true, ""
}

// isSingleProposition rejects questions that encode more than one yes/no
// proposition. Compound questions ("Will X win AND will Y happen?") show up
// as repeated yes/no clause markers; more than one occurrence of either word
// disqualifies.
func isSingleProposition(question string) bool {
	yes, no := 0, 0
	for _, w := range splitWords(question) {
		switch w {
		case "yes":
			yes++
		case "no":
			no++
		}
	}
	return yes <= 1 && no <= 1
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
