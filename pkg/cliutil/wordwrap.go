package cliutil

import (
	"strings"
)

// Wrap the string `s` to a maximum width `w`.  Pass `w` == 0 to do no wrapping.
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func Wrap(w int, s string) string {
	return wrap(0, w, s)
}

// WrapIndent wraps the string `s` to a maximum width `w` with leading indent `i`.  The first line
// is not indented (this is assumed to be done by caller).  Pass `w` == 0 to do no wrapping.
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func WrapIndent(i, w int, s string) string {
	return wrap(i, w, s)
}

func wrap(indent, width int, text string) string {
	if width <= 0 {
		return text
	}
	limit := width - 5
	if limit <= indent+1 {
		limit = width
	}
	pad := strings.Repeat(" ", indent)

	paragraphs := strings.Split(text, "\n\n")
	wrapped := make([]string, 0, len(paragraphs))
	for _, paragraph := range paragraphs {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			wrapped = append(wrapped, "")
			continue
		}
		var buf strings.Builder
		buf.WriteString(words[0])
		lineLen := indent + len(words[0])
		for _, word := range words[1:] {
			if lineLen+1+len(word) > limit {
				buf.WriteString("\n")
				buf.WriteString(pad)
				buf.WriteString(word)
				lineLen = indent + len(word)
			} else {
				buf.WriteString(" ")
				buf.WriteString(word)
				lineLen += 1 + len(word)
			}
		}
		wrapped = append(wrapped, buf.String())
	}
	return strings.Join(wrapped, "\n\n")
}
