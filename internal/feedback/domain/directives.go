package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxDirectiveNoteLen = 280

// FoldDirectives turns raw notes into weighted directives. Low ratings
// weigh heavier: a reader complaint matters more to the next episode than
// praise does.
func FoldDirectives(notes []FeedbackNote) []Directive {
	directives := make([]Directive, 0, len(notes))
	for _, note := range notes {
		text := trimNote(note.Note)
		switch {
		case note.Rating <= 2 && text != "":
			text = fmt.Sprintf("Course-correct: %s", text)
		case note.Rating <= 2:
			text = "The previous episode missed the mark; rethink the angle."
		case note.Rating >= 4 && text != "":
			text = fmt.Sprintf("More of this: %s", text)
		case note.Rating >= 4:
			text = "The previous episode landed well; keep the same direction."
		case text == "":
			continue
		}
		directives = append(directives, Directive{
			NoteID: note.ID,
			Weight: directiveWeight(note.Rating),
			Text:   text,
		})
	}
	return directives
}

func directiveWeight(rating int) float64 {
	switch {
	case rating <= 1:
		return 1.0
	case rating == 2:
		return 0.8
	case rating == 3:
		return 0.5
	default:
		return 0.6
	}
}

func trimNote(note string) string {
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) <= maxDirectiveNoteLen {
		return note
	}
	runes := []rune(note)
	return string(runes[:maxDirectiveNoteLen]) + "…"
}
