// Package chunker splits scraped page text into embedding-sized chunks.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Defaults used by the ingest pipeline.
const (
	DefaultMaxChars = 5000
	DefaultMinChars = 50
)

// Paragraph greedily packs blank-line separated paragraphs into chunks of at most maxChars.
// Chunks whose trimmed length does not exceed minChars are dropped.
type Paragraph struct {
	maxChars int
	minChars int
	splitter *regexp.Regexp
}

// NewParagraph creates a paragraph chunker. Non-positive limits fall back to defaults.
func NewParagraph(maxChars, minChars int) *Paragraph {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if minChars < 0 {
		minChars = DefaultMinChars
	}
	return &Paragraph{
		maxChars: maxChars,
		minChars: minChars,
		splitter: regexp.MustCompile(`\n{2,}`),
	}
}

// Split returns the chunks of text in order.
func (c *Paragraph) Split(text string) []string {
	var chunks []string
	var buf strings.Builder

	flush := func() {
		if chunk := strings.TrimSpace(buf.String()); utf8.RuneCountInString(chunk) > c.minChars {
			chunks = append(chunks, chunk)
		}
		buf.Reset()
	}

	for _, para := range c.splitter.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if buf.Len() == 0 {
			buf.WriteString(para)
			continue
		}
		if utf8.RuneCountInString(buf.String())+2+utf8.RuneCountInString(para) > c.maxChars {
			flush()
			buf.WriteString(para)
			continue
		}
		buf.WriteString("\n\n")
		buf.WriteString(para)
	}
	flush()

	return chunks
}

// Fixed cuts text into consecutive windows of size characters.
type Fixed struct {
	size int
}

// NewFixed creates a fixed-window chunker.
func NewFixed(size int) *Fixed {
	if size <= 0 {
		size = DefaultMaxChars
	}
	return &Fixed{size: size}
}

// Split returns the windows of the trimmed text; blank text yields none.
func (c *Fixed) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, len(runes)/c.size+1)
	for i := 0; i < len(runes); i += c.size {
		end := min(i+c.size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
