package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/charmbracelet/lipgloss"
)

var (
	localStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	remoteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("177"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// formatCandidate renders one numbered prediction line.
func formatCandidate(n int, word string, c predict.Candidate) string {
	style := localStyle
	if c.Source == predict.SourceRemote {
		style = remoteStyle
	}
	return fmt.Sprintf("%2d. %-24s %s", n, style.Render(word),
		dimStyle.Render(fmt.Sprintf("(%s %s)", c.Source, formatScore(c.Score))))
}

// formatScore keeps small probabilities readable.
func formatScore(score float64) string {
	switch {
	case score == 0:
		return "0"
	case score >= 100:
		return formatWithCommas(int(score))
	case score < 0.001:
		return fmt.Sprintf("%.2e", score)
	}
	return fmt.Sprintf("%.3f", score)
}

// formatWithCommas formats an integer with comma separators
func formatWithCommas(n int) string {
	if n < 0 {
		return "-" + formatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if n < 1000 {
		return str
	}
	var b strings.Builder
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(char)
	}
	return b.String()
}

func (h *InputHandler) printStats(stats map[string]int) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.log.Printf("%-18s %s", k, formatWithCommas(stats[k]))
	}
	h.log.Printf("%-18s %s", "cliRequests", formatWithCommas(h.requestCount))
}
