package chi

import (
	"github.com/tabrag/tabrag/internal/domain"
	dombatch "github.com/tabrag/tabrag/internal/domain/batch"
	ingestuc "github.com/tabrag/tabrag/internal/usecase/ingest"
	searchuc "github.com/tabrag/tabrag/internal/usecase/search"
)

type errorResponse struct {
	OK     bool   `json:"ok"`
	Code   string `json:"code"`
	Error  string `json:"error"`
	Answer string `json:"answer,omitempty"`
}

type ingestRequest struct {
	Docs   []domain.Tab `json:"docs"`
	APIKey string       `json:"apiKey"`
}

type ingestResult struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ingestResponse struct {
	OK          bool           `json:"ok"`
	CountTabs   int            `json:"countTabs"`
	CountChunks int            `json:"countChunks"`
	Skipped     int            `json:"skipped"`
	Results     []ingestResult `json:"results"`
	Message     string         `json:"message"`
	Error       string         `json:"error,omitempty"`
}

type chatRequest struct {
	Question string `json:"question"`
	APIKey   string `json:"apiKey"`
	URL      string `json:"url"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

type searchRequest struct {
	Q      string `json:"q"`
	APIKey string `json:"apiKey"`
}

type searchItem struct {
	Content  string           `json:"content"`
	Metadata domain.ChunkMeta `json:"metadata"`
	Score    float64          `json:"score"`
}

type searchResponse struct {
	OK      bool         `json:"ok"`
	Results []searchItem `json:"results"`
}

type configResponse struct {
	OK    bool               `json:"ok"`
	Mode  domain.BackendKind `json:"mode,omitempty"`
	Error string             `json:"error,omitempty"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func ingestReportToResponse(r ingestuc.Report) ingestResponse {
	results := make([]ingestResult, len(r.Results))
	for i, res := range r.Results {
		results[i] = batchResultToDTO(res)
	}
	return ingestResponse{
		OK:          true,
		CountTabs:   r.Tabs(),
		CountChunks: r.Chunks(),
		Skipped:     r.Skipped(),
		Results:     results,
		Message:     r.Message,
	}
}

func batchResultToDTO(r dombatch.Result) ingestResult {
	item := ingestResult{URL: r.URL(), Status: string(r.Status()), Chunks: r.Chunks()}
	if r.Err() != nil {
		item.Error = safeDomainMessage(r.Err())
	}
	return item
}

func searchResultsToDTO(results []searchuc.Result) []searchItem {
	items := make([]searchItem, len(results))
	for i, r := range results {
		items[i] = searchItem{Content: r.Content, Metadata: r.Metadata, Score: r.Score}
	}
	return items
}
