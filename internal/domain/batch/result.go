package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK      ItemStatus = "ok"
	StatusError   ItemStatus = "error"
	StatusSkipped ItemStatus = "skipped"
)

// Result is the outcome of ingesting one tab.
type Result struct {
	url    string
	status ItemStatus
	chunks int
	err    error
}

// NewOK records a tab that produced chunks.
func NewOK(url string, chunks int) Result { return Result{url: url, status: StatusOK, chunks: chunks} }

// NewError records a tab that failed at some stage.
func NewError(url string, err error) Result { return Result{url: url, status: StatusError, err: err} }

// NewSkipped records a tab already present in the store.
func NewSkipped(url string) Result { return Result{url: url, status: StatusSkipped} }

// URL returns the tab URL.
func (r Result) URL() string { return r.url }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Chunks returns how many chunks the tab produced.
func (r Result) Chunks() int { return r.chunks }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Report summarizes a batch of results.
type Report struct {
	Results []Result
}

// Count returns the number of results with the given status.
func (r Report) Count(status ItemStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.status == status {
			n++
		}
	}
	return n
}

// TotalChunks sums chunks across successful results.
func (r Report) TotalChunks() int {
	n := 0
	for _, res := range r.Results {
		n += res.chunks
	}
	return n
}
