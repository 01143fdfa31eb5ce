// Package fileindex is a flat in-memory vector index persisted to a single file.
//
// File layout:
//
//	magic   "TABIDX1\n"
//	uint32  header length (little-endian)
//	header  JSON: version and per-record text, metadata, vector dimension
//	vectors little-endian float32 values of every record, in header order
package fileindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
)

const (
	magic         = "TABIDX1\n"
	formatVersion = 1
	// maxHeaderLen guards against allocating for a corrupt length prefix.
	maxHeaderLen = 1 << 30
)

// ErrCorrupt signals an index file that cannot be decoded.
var ErrCorrupt = errors.New("corrupt index file")

type record struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Dims     int            `json:"dims"`
	vector   []float32
}

type header struct {
	Version int      `json:"version"`
	Records []record `json:"records"`
}

// Index holds embedded chunks for local search. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	path    string
	records []record
	ranker  *ranking.Ranker
	logger  *zap.Logger
}

// New creates an empty index bound to path. Call Load to read existing data.
func New(path string, ranker *ranking.Ranker, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ranker == nil {
		ranker = ranking.New(logger)
	}
	return &Index{path: path, ranker: ranker, logger: logger}
}

// Path returns the backing file path.
func (ix *Index) Path() string { return ix.path }

// Len returns the number of records held.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// Load reads the index file. A missing file yields an empty index and creates
// the parent directory. A corrupt file is logged and replaced by an empty index.
func (ix *Index) Load() error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0o755); err != nil {
		return fmt.Errorf("fileindex: create dir: %w", err)
	}

	f, err := os.Open(filepath.Clean(ix.path))
	if errors.Is(err, fs.ErrNotExist) {
		ix.reset()
		ix.logger.Info("Creating new file index", zap.String("path", ix.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fileindex: open: %w", err)
	}
	defer f.Close()

	records, err := decode(bufio.NewReader(f))
	if err != nil {
		ix.logger.Warn("Failed to load file index, reinitializing",
			zap.String("path", ix.path), zap.Error(err))
		ix.reset()
		return nil
	}

	ix.mu.Lock()
	ix.records = records
	ix.mu.Unlock()
	ix.logger.Info("File index loaded", zap.String("path", ix.path), zap.Int("records", len(records)))
	return nil
}

func (ix *Index) reset() {
	ix.mu.Lock()
	ix.records = nil
	ix.mu.Unlock()
}

// Merge appends documents to the in-memory index.
func (ix *Index) Merge(docs []domain.Document) {
	if len(docs) == 0 {
		return
	}
	add := make([]record, len(docs))
	for i, d := range docs {
		add[i] = record{Text: d.Text, Metadata: d.Metadata, Dims: len(d.Embedding), vector: d.Embedding}
	}

	ix.mu.Lock()
	ix.records = append(ix.records, add...)
	ix.mu.Unlock()
}

// Save writes the index to a temp file and renames it over the target.
func (ix *Index) Save() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	dir := filepath.Dir(ix.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fileindex: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(ix.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("fileindex: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	w := bufio.NewWriter(tmp)
	if err := encode(w, ix.records); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fileindex: encode: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fileindex: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fileindex: close temp: %w", err)
	}
	if err := os.Rename(tmpName, ix.path); err != nil {
		return fmt.Errorf("fileindex: rename: %w", err)
	}
	return nil
}

// Search ranks every non-placeholder record against query and returns the best k.
func (ix *Index) Search(query []float32, k int) []ranking.Scored {
	ix.mu.RLock()
	candidates := make([]ranking.Candidate, 0, len(ix.records))
	for _, r := range ix.records {
		if domain.IsPlaceholder(r.Text, r.Metadata) {
			continue
		}
		candidates = append(candidates, ranking.Candidate{Text: r.Text, Metadata: r.Metadata, Embedding: r.vector})
	}
	ix.mu.RUnlock()

	return ix.ranker.TopK(query, candidates, k)
}

func encode(w io.Writer, records []record) error {
	hdr, err := json.Marshal(header{Version: formatVersion, Records: records})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	var buf [4]byte
	for _, r := range records {
		for _, f := range r.vector {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func decode(r io.Reader) ([]record, error) {
	m := make([]byte, len(magic))
	if _, err := io.ReadFull(r, m); err != nil || string(m) != magic {
		return nil, fmt.Errorf("bad magic: %w", ErrCorrupt)
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("header length: %w", ErrCorrupt)
	}
	if n > maxHeaderLen {
		return nil, fmt.Errorf("header length %d: %w", n, ErrCorrupt)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("header: %w", ErrCorrupt)
	}

	var hdr header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("header json: %w: %w", ErrCorrupt, err)
	}
	if hdr.Version != formatVersion {
		return nil, fmt.Errorf("version %d: %w", hdr.Version, ErrCorrupt)
	}

	var buf [4]byte
	for i := range hdr.Records {
		dims := hdr.Records[i].Dims
		if dims < 0 {
			return nil, fmt.Errorf("record %d dims %d: %w", i, dims, ErrCorrupt)
		}
		if dims == 0 {
			continue
		}
		vec := make([]float32, dims)
		for j := range vec {
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, fmt.Errorf("record %d vector: %w", i, ErrCorrupt)
			}
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
		}
		hdr.Records[i].vector = vec
	}
	return hdr.Records, nil
}
