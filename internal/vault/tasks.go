package vault

import "strings"

// TaskItem is one checkbox line parsed out of an analysis tasks section.
type TaskItem struct {
	Text string
	Done bool
}

// ParseTasks pulls checkbox items out of a markdown tasks section.
// Lines without a checkbox marker (headers, commentary) are ignored.
func ParseTasks(section string) []TaskItem {
	var items []TaskItem
	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "-* ")

		var done bool
		switch {
		case strings.HasPrefix(trimmed, "[ ]"):
			done = false
		case strings.HasPrefix(trimmed, "[x]"), strings.HasPrefix(trimmed, "[X]"):
			done = true
		default:
			continue
		}

		text := strings.TrimSpace(trimmed[3:])
		if text == "" {
			continue
		}
		items = append(items, TaskItem{Text: text, Done: done})
	}
	return items
}
