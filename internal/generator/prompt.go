package generator

import (
	"fmt"
	"sort"
	"strings"

	episodedomain "github.com/manyfutures/foresight/internal/episode/domain"
	feedbackdomain "github.com/manyfutures/foresight/internal/feedback/domain"
	projectdomain "github.com/manyfutures/foresight/internal/project/domain"
)

const systemPrompt = `You are an analyst writing a recurring research briefing.
Each briefing is one episode in a series the reader subscribed to. Write in
clear prose with short sections. Open with a single-line headline on the first
line, then a blank line, then the body. Do not include markdown code fences.`

// buildPrompt assembles the user message from the project brief, stored
// preferences, and the directives folded from unconsumed feedback. Preference
// keys are emitted in sorted order so the same inputs always produce the same
// prompt.
func buildPrompt(project projectdomain.Project, episode episodedomain.Episode, directives []feedbackdomain.Directive) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Series: %s\n", project.Name)
	fmt.Fprintf(&b, "Episode number: %d\n\n", episode.Sequence)
	fmt.Fprintf(&b, "Brief:\n%s\n", strings.TrimSpace(project.Brief))

	if len(project.Preferences) > 0 {
		keys := make([]string, 0, len(project.Preferences))
		for k := range project.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nReader preferences:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, project.Preferences[k])
		}
	}

	if len(directives) > 0 {
		b.WriteString("\nFeedback from previous episodes, weighted by importance:\n")
		for _, d := range directives {
			fmt.Fprintf(&b, "- (%.1f) %s\n", d.Weight, d.Text)
		}
	}

	b.WriteString("\nWrite the next episode now.")
	return b.String()
}
