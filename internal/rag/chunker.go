package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in characters.
const DefaultChunkSize = 500

var paragraphBreak = regexp.MustCompile(`\n\s*\n+`)

// SplitChunks packs paragraphs into chunks of at most size characters.
// Paragraphs longer than size are split on word boundaries; a single word
// longer than size becomes its own chunk.
func SplitChunks(content string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphBreak.Split(content, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if utf8.RuneCountInString(para) > size {
			flush()
			chunks = append(chunks, splitWords(para, size)...)
			continue
		}

		if current.Len() > 0 && runeLen(current.String())+2+runeLen(para) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

func splitWords(para string, size int) []string {
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(para) {
		if cur.Len() > 0 && runeLen(cur.String())+1+runeLen(w) > size {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
