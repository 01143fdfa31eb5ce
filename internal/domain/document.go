package domain

import (
	"encoding/json"
	"strconv"
)

// Metadata keys stored alongside every chunk.
const (
	MetaTitle = "title"
	MetaURL   = "url"
	MetaPart  = "part"
	// MetaMarker tags placeholder records written when an index is bootstrapped.
	MetaMarker = "meta"
)

// PlaceholderText is the text of bootstrap records that must never surface in results.
const PlaceholderText = "init"

// DefaultTitle is used when a tab arrives without a title.
const DefaultTitle = "Untitled"

// Tab is an open browser tab submitted for ingestion.
type Tab struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Document is one embedded chunk of a scraped tab.
type Document struct {
	Text      string
	Metadata  map[string]any
	Embedding []float32
}

// NewChunkDocument builds the document for the part-th (1-based) chunk of a tab.
func NewChunkDocument(tab Tab, part int, text string, embedding []float32) Document {
	title := tab.Title
	if title == "" {
		title = DefaultTitle
	}
	return Document{
		Text: text,
		Metadata: map[string]any{
			MetaTitle: title,
			MetaURL:   tab.URL,
			MetaPart:  part,
		},
		Embedding: embedding,
	}
}

// ChunkMeta is the normalized metadata returned to clients.
type ChunkMeta struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Part  int    `json:"part"`
}

// NormalizeMeta extracts title, url and part with their defaults applied.
func NormalizeMeta(m map[string]any) ChunkMeta {
	meta := ChunkMeta{
		Title: MetaString(m, MetaTitle),
		URL:   MetaString(m, MetaURL),
		Part:  MetaInt(m, MetaPart),
	}
	if meta.Title == "" {
		meta.Title = DefaultTitle
	}
	if meta.Part <= 0 {
		meta.Part = 1
	}
	return meta
}

// IsPlaceholder reports whether a record is an index bootstrap placeholder.
func IsPlaceholder(text string, m map[string]any) bool {
	return text == PlaceholderText || MetaString(m, MetaMarker) == PlaceholderText
}

// MetaString returns m[key] as a string, or "" when absent or not a string.
func MetaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// MetaInt returns m[key] as an int. Backends return JSON numbers as float64,
// json.Number or strings depending on the driver.
func MetaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
