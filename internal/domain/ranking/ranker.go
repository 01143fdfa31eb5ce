// Package ranking scores stored candidates against a query embedding
// and selects the best k by cosine similarity.
package ranking

import (
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Reasons reported for candidates whose embedding could not be used.
const (
	ReasonMalformed         = "malformed"
	ReasonDimensionMismatch = "dimension_mismatch"
)

// labelLen bounds the text prefix used to identify a candidate in diagnostics.
const labelLen = 50

// Candidate is a stored unit of text eligible for retrieval.
// Embedding keeps whatever shape the backend produced, see ResolveEmbedding.
type Candidate struct {
	Text      string
	Metadata  map[string]any
	Embedding any
}

// Scored is a candidate with its similarity to the query.
type Scored struct {
	Text     string
	Metadata map[string]any
	Score    float64
}

// Ranker performs local top-k ranking. It holds no per-call state and is safe for concurrent use.
type Ranker struct {
	logger    *zap.Logger
	onInvalid func(reason string)
}

// New creates a ranker. A nil logger disables diagnostics.
func New(logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{logger: logger}
}

// WithInvalidHook registers a callback invoked once per unusable candidate embedding.
func (r *Ranker) WithInvalidHook(fn func(reason string)) *Ranker {
	r.onInvalid = fn
	return r
}

// TopK returns the k candidates most similar to query, best first.
// Ties keep input order. A malformed candidate scores 0 and never aborts the batch.
func (r *Ranker) TopK(query []float32, candidates []Candidate, k int) []Scored {
	if k <= 0 || len(candidates) == 0 {
		return []Scored{}
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{
			Text:     c.Text,
			Metadata: c.Metadata,
			Score:    r.score(query, c),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

func (r *Ranker) score(query []float32, c Candidate) float64 {
	vec, err := ResolveEmbedding(c.Embedding)
	if err != nil {
		r.logger.Warn("Invalid embedding format for candidate",
			zap.String("candidate", candidateLabel(c)),
			zap.Error(err),
		)
		r.invalid(ReasonMalformed)
		return 0
	}
	if len(vec) == 0 {
		return 0
	}
	if len(vec) != len(query) {
		r.logger.Debug("Embedding dimension mismatch",
			zap.String("candidate", candidateLabel(c)),
			zap.Int("query_dims", len(query)),
			zap.Int("candidate_dims", len(vec)),
		)
		r.invalid(ReasonDimensionMismatch)
		return 0
	}
	return Cosine(query, vec)
}

func (r *Ranker) invalid(reason string) {
	if r.onInvalid != nil {
		r.onInvalid(reason)
	}
}

// candidateLabel identifies a candidate by title, falling back to its leading text.
func candidateLabel(c Candidate) string {
	if title, ok := c.Metadata["title"].(string); ok && title != "" {
		return title
	}
	if utf8.RuneCountInString(c.Text) <= labelLen {
		return c.Text
	}
	return string([]rune(c.Text)[:labelLen])
}
