package analyze

import (
	"regexp"
	"strings"
)

// headerPattern matches markdown headers (h1-h6) at the start of a line.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+([^\n]+?)[ \t]*$`)

// ExtractSection returns the body of the section whose header contains
// title (case-insensitive), up to the next header or EOF. Models number
// or restyle headers freely, so matching is by containment rather than
// exact text. Missing section returns "".
func ExtractSection(text, title string) string {
	matches := headerPattern.FindAllStringSubmatchIndex(text, -1)
	upper := strings.ToUpper(title)

	for i, m := range matches {
		headerName := text[m[4]:m[5]]
		if !strings.Contains(strings.ToUpper(headerName), upper) {
			continue
		}

		contentStart := m[1]
		if contentStart < len(text) && text[contentStart] == '\n' {
			contentStart++
		}
		contentEnd := len(text)
		if i+1 < len(matches) {
			contentEnd = matches[i+1][0]
		}
		return strings.TrimSpace(text[contentStart:contentEnd])
	}
	return ""
}

// maxTagLen filters out sentence-length lines the model sometimes puts
// in the tag section.
const maxTagLen = 30

// extractTags pulls normalized tags out of the tags section: bullets
// stripped, comma lists split, lowercased with spaces collapsed to
// dashes, deduplicated, capped at limit.
func extractTags(text string, limit int) []string {
	section := ExtractSection(text, titleTags)
	if section == "" {
		return nil
	}

	seen := make(map[string]bool)
	var tags []string
	for _, line := range strings.Split(section, "\n") {
		cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-*#"))
		if cleaned == "" || len(cleaned) >= maxTagLen {
			continue
		}
		for _, raw := range strings.Split(cleaned, ",") {
			tag := normalizeTag(raw)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
			if len(tags) == limit {
				return tags
			}
		}
	}
	return tags
}

func normalizeTag(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.Trim(tag, "-*#` ")
	tag = strings.Join(strings.Fields(tag), "-")
	return tag
}
