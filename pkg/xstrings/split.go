package xstrings

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitMessage breaks text into lines no longer than maxLength bytes, for
// transports that cannot deliver multi-line or long messages. Lines are
// split at whitespace when possible; a single word longer than maxLength
// is cut at a rune boundary. Blank lines are dropped.
func SplitMessage(text string, maxLength int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if maxLength <= 0 {
			chunks = append(chunks, line)
			continue
		}
		chunks = append(chunks, splitLine(line, maxLength)...)
	}
	return chunks
}

func splitLine(line string, maxLength int) []string {
	var chunks []string
	for len(line) > maxLength {
		splitIndex := strings.LastIndexFunc(line[:maxLength+1], unicode.IsSpace)
		if splitIndex <= 0 {
			// no whitespace to break on, cut inside the word
			splitIndex = maxLength
			for splitIndex > 0 && !utf8.RuneStart(line[splitIndex]) {
				splitIndex--
			}
			if splitIndex == 0 {
				_, size := utf8.DecodeRuneInString(line)
				splitIndex = size
			}
		}

		if chunk := strings.TrimRightFunc(line[:splitIndex], unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		line = strings.TrimLeftFunc(line[splitIndex:], unicode.IsSpace)
	}
	if line != "" {
		chunks = append(chunks, line)
	}
	return chunks
}
