package queue

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DeriveLabel builds a display label from the mode and source list, used
// when the caller did not supply one. The first source contributes its
// cleaned-up name; additional sources are summarized as a count.
func DeriveLabel(mode Mode, sources []Source) string {
	primary := "Unnamed Dataset"
	if len(sources) > 0 {
		primary = cleanSourceName(sources[0].Display())
	}
	label := mode.Display() + " · " + primary
	if extra := len(sources) - 1; extra > 0 {
		label += fmt.Sprintf(" +%d more", extra)
	}
	return label
}

func cleanSourceName(name string) string {
	if name == "" {
		return "Unnamed Dataset"
	}
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		name = name[:dot]
	}
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Unnamed Dataset"
	}
	return cases.Title(language.Und).String(title)
}
