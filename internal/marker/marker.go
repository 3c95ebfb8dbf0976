// Package marker extracts routing markers from agent/human message text:
// [FROM:name], [TEAM_TASK:description], and [NEXT:name!P1,name2!P2,...].
package marker

import (
	"regexp"
	"strings"

	"github.com/kandev/converse/internal/model"
)

var (
	fromPattern      = regexp.MustCompile(`(?i)\[FROM:\s*([^\]]*?)\s*\]`)
	teamTaskPattern  = regexp.MustCompile(`(?i)\[TEAM_TASK:\s*([^\]]*?)\s*\]`)
	nextPattern      = regexp.MustCompile(`(?i)\[NEXT:\s*([^\]]*?)\s*\]`)
	addresseeSplit   = regexp.MustCompile(`\s*,\s*`)
	multiSpaceRun    = regexp.MustCompile(`[ \t]{2,}`)
)

// ParseResult holds everything the marker grammar extracted from one
// message, plus the message text with [NEXT] markers stripped (FROM and
// TEAM_TASK markers are preserved so they remain visible in history).
type ParseResult struct {
	From        string
	TeamTask    string
	HasTeamTask bool
	Addressees  []model.ParsedAddressee
	CleanedText string
}

// Parse scans text for [FROM:], [TEAM_TASK:], and [NEXT:] markers.
//
// TEAM_TASK is last-write-wins: if text contains more than one
// [TEAM_TASK:...] marker, the last one found wins, even within the same
// message. This is intentional, not a bug — see DESIGN.md Open Question 1.
//
// NEXT is cumulative: every [NEXT:...] marker in the text contributes its
// comma-separated addressees to the result, in the order the markers appear.
func Parse(text string) ParseResult {
	result := ParseResult{}

	if m := fromPattern.FindStringSubmatch(text); m != nil {
		from := strings.TrimSpace(m[1])
		if from != "" {
			result.From = from
		}
	}

	if matches := teamTaskPattern.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		if desc := strings.TrimSpace(last[1]); desc != "" {
			result.TeamTask = desc
			result.HasTeamTask = true
		}
	}

	if matches := nextPattern.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		addressees := make([]model.ParsedAddressee, 0, len(matches))
		for _, m := range matches {
			addressees = append(addressees, parseAddresseeList(m[1])...)
		}
		result.Addressees = addressees
	}

	result.CleanedText = normalizeWhitespace(StripNextOnly(text))
	return result
}

// StripNextOnly removes [NEXT:...] markers, leaving [FROM:...] and
// [TEAM_TASK:...] intact so they remain visible in stored history.
// parse(stripNextOnly(x)).Addressees is always empty.
func StripNextOnly(text string) string {
	return nextPattern.ReplaceAllString(text, "")
}

// StripAllMarkers removes every recognized marker, used where a fully
// plain-text rendering is required (e.g. display surfaces that don't want
// to show routing bookkeeping at all).
func StripAllMarkers(text string) string {
	text = fromPattern.ReplaceAllString(text, "")
	text = teamTaskPattern.ReplaceAllString(text, "")
	text = nextPattern.ReplaceAllString(text, "")
	return normalizeWhitespace(text)
}

// normalizeWhitespace collapses runs of two or more horizontal whitespace
// characters to one, drops lines that become empty as a result, and trims
// the final string.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = multiSpaceRun.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// parseAddresseeList parses the comma-separated "name!P1" list inside a
// [NEXT:...] marker. A bare name with no "!P<n>" suffix defaults to
// PriorityReply. An unrecognized priority suffix is treated as
// PriorityReply rather than rejecting the whole entry.
func parseAddresseeList(raw string) []model.ParsedAddressee {
	parts := addresseeSplit.Split(strings.TrimSpace(raw), -1)
	addressees := make([]model.ParsedAddressee, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name := part
		priority := model.PriorityReply
		interrupt := false

		if idx := strings.LastIndex(part, "!"); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			suffix := strings.TrimSpace(part[idx+1:])
			switch strings.ToUpper(suffix) {
			case "P1":
				priority = model.PriorityInterrupt
				interrupt = true
			case "P2":
				priority = model.PriorityReply
			case "P3":
				priority = model.PriorityExtend
			}
		}

		if name == "" {
			continue
		}

		addressees = append(addressees, model.ParsedAddressee{
			MemberName: name,
			Priority:   priority,
			Interrupt:  interrupt,
		})
	}

	return addressees
}
