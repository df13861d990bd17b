package jobfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Feed supplies normalized postings from an external source. Implementations
// must tolerate re-delivery of the same posting ID; deduplication happens at
// the store boundary.
type Feed interface {
	Fetch(ctx context.Context) (*Postings, error)
}

// FileFeed reads postings from a JSON file holding an array of posting
// objects. It is the concrete ingestion boundary when postings are produced
// by an out-of-process fetcher.
type FileFeed struct {
	path   string
	logger *zap.Logger

	now func() time.Time
}

func NewFileFeed(path string, logger *zap.Logger) *FileFeed {
	return &FileFeed{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

func (f *FileFeed) Fetch(_ context.Context) (*Postings, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open feed file: %w", err)
	}
	defer file.Close()

	var raw []map[string]any
	if err := json.NewDecoder(file).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feed file %q: %w", f.path, err)
	}

	postings, err := DecodePostings(raw)
	if err != nil {
		return nil, err
	}

	fetched := f.now().UTC()
	for _, posting := range postings.Items {
		posting.FetchedAt = fetched
	}

	f.logger.Debug("fetched postings from file",
		zap.String("path", f.path),
		zap.Int("count", postings.Len()),
	)

	return postings, nil
}

// DecodePostings converts loosely-typed feed payloads into postings using the
// json field names.
func DecodePostings(items []map[string]any) (*Postings, error) {
	var postings []*Posting

	cfg := &mapstructure.DecoderConfig{
		Metadata:   nil,
		Result:     &postings,
		TagName:    "json",
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
	}

	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("build feed decoder: %w", err)
	}

	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode feed items: %w", err)
	}

	return &Postings{Items: postings}, nil
}
