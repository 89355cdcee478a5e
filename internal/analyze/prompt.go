package analyze

import (
	"fmt"
	"strings"
)

// Section titles as they appear in the model's markdown response. The
// parser matches on these, so prompt and parser must agree.
const (
	titleTasks     = "TASKS & ACTION ITEMS"
	titleThemes    = "KEY THEMES & TOPICS"
	titleQuestions = "QUESTIONS & UNCERTAINTIES"
	titleInsights  = "INSIGHTS & OBSERVATIONS"
	titleTags      = "SUGGESTED TAGS"
	titleSummary   = "SUMMARY"
	titleMetadata  = "METADATA"
)

type promptSection struct {
	key     string // config section name (tasks, themes, ...)
	title   string
	bullets []string
}

var promptSections = []promptSection{
	{
		key:   "tasks",
		title: titleTasks,
		bullets: []string{
			"Identify all tasks, action items, or to-dos mentioned",
			"Mark if they appear complete [x] or incomplete [ ]",
			"Note any deadlines or time sensitivity",
		},
	},
	{
		key:   "themes",
		title: titleThemes,
		bullets: []string{
			"Identify main topics discussed",
			"Note recurring themes or patterns",
			"Highlight important concepts or decisions",
		},
	},
	{
		key:   "questions",
		title: titleQuestions,
		bullets: []string{
			"List any questions posed in the notes",
			"Identify areas where more information is needed",
			"Note unresolved issues",
		},
	},
	{
		key:   "insights",
		title: titleInsights,
		bullets: []string{
			"Pattern recognition: habits, recurring activities, or behaviors",
			"Decisions made or needed",
			"Ideas or brainstorming points worth keeping",
		},
	},
}

// buildPrompt assembles the per-note analysis prompt. Disabled sections
// are omitted and the remaining ones renumbered; tags, summary, and
// metadata are always requested.
func (a *Analyzer) buildPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("You are analyzing handwritten notes that have been digitized using OCR.\n")
	sb.WriteString("The OCR may contain errors or unclear text. Analyze the following note and provide structured insights.\n\n")
	sb.WriteString("**Original OCR Text:**\n```\n")
	sb.WriteString(text)
	sb.WriteString("\n```\n\n**Please provide the following analysis:**\n")

	n := 0
	for _, sec := range promptSections {
		if !a.sectionEnabled(sec.key) {
			continue
		}
		n++
		fmt.Fprintf(&sb, "\n## %d. %s\n", n, sec.title)
		for _, b := range sec.bullets {
			sb.WriteString("- " + b + "\n")
		}
		if hint := a.hints[sec.key]; hint != "" {
			sb.WriteString("- " + hint + "\n")
		}
	}

	n++
	fmt.Fprintf(&sb, "\n## %d. %s\n", n, titleTags)
	fmt.Fprintf(&sb, "Based on the content, suggest up to %d relevant tags from these categories:\n%s\n",
		a.maxTags, strings.Join(a.tagCategories, ", "))
	sb.WriteString("Also consider custom tags based on specific content.\n")

	n++
	fmt.Fprintf(&sb, "\n## %d. %s\n", n, titleSummary)
	sb.WriteString("Provide a concise 2-3 sentence summary of the note's main content.\n")

	n++
	fmt.Fprintf(&sb, "\n## %d. %s\n", n, titleMetadata)
	sb.WriteString("- Estimated note type (meeting, brainstorm, task list, journal, learning, etc.)\n")
	sb.WriteString("- Priority level (high/medium/low) based on content urgency\n")

	sb.WriteString("\n**Format your response as structured markdown that can be easily parsed.**\n")
	sb.WriteString("Use clear section headers and bullet points.\n")
	return sb.String()
}

// buildWeeklyPrompt assembles the weekly rollup prompt from the
// per-note section texts collected during the week.
func buildWeeklyPrompt(noteCount int, tasks, themes, questions []string) string {
	var sb strings.Builder
	sb.WriteString("Please analyze these notes from the past week and provide a comprehensive summary.\n\n")
	fmt.Fprintf(&sb, "**Notes Summary:**\nTotal notes analyzed: %d\n", noteCount)

	sb.WriteString("\n**All Tasks Identified:**\n")
	sb.WriteString(strings.Join(tasks, "\n"))
	sb.WriteString("\n\n**All Themes:**\n")
	sb.WriteString(strings.Join(themes, "\n"))
	sb.WriteString("\n\n**All Questions:**\n")
	sb.WriteString(strings.Join(questions, "\n"))

	sb.WriteString(`

**Please provide:**

1. **Task Summary**
   - Open tasks (uncompleted)
   - Completed tasks
   - Long-running tasks (appearing multiple times)

2. **Recurring Patterns**
   - Topics that appeared multiple times
   - Habits or behaviors noted

3. **Top Themes**
   - Main focus areas this week
   - Important developments

4. **Open Questions**
   - Unresolved questions
   - Areas needing investigation

5. **Recommendations**
   - Suggested priorities for next week
   - Tasks that need attention
`)
	return sb.String()
}
