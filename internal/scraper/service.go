// Package scraper runs the extraction pipeline for single URLs and batches.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/parser"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves one page. *fetch.Retriever implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.RawPage, error)
}

// Recorder observes pipeline outcomes. *metrics.Metrics implements it.
type Recorder interface {
	ObserveURL(kind models.PageKind, err error, elapsed time.Duration, rows int)
	ObserveBatch(size int)
	ObservePanic()
}

type nopRecorder struct{}

func (nopRecorder) ObserveURL(models.PageKind, error, time.Duration, int) {}
func (nopRecorder) ObserveBatch(int)                                     {}
func (nopRecorder) ObservePanic()                                        {}

type Config struct {
	// ConcurrencyLimit caps in-flight URLs per batch; 0 means unbounded.
	ConcurrencyLimit int
	ListingThreshold int
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithDetailExtractor(e *parser.DetailExtractor) Option {
	return func(s *Service) {
		if e != nil {
			s.detail = e
		}
	}
}

// Service wires the pipeline stages together. It keeps no per-request state
// and is safe for concurrent use.
type Service struct {
	fetcher    Fetcher
	classifier parser.Classifier
	detail     *parser.DetailExtractor
	listing    *parser.ListingExtractor
	limit      int
	recorder   Recorder
	logger     *slog.Logger
}

func NewService(fetcher Fetcher, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		fetcher:    fetcher,
		classifier: parser.NewClassifier(cfg.ListingThreshold),
		detail:     parser.NewDetailExtractor(logger),
		listing:    parser.NewListingExtractor(logger),
		limit:      cfg.ConcurrencyLimit,
		recorder:   nopRecorder{},
		logger:     logger.With("component", "scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExtractOne runs the full pipeline for one URL. A detail or structured page
// yields exactly one record, a listing page zero or more.
func (s *Service) ExtractOne(ctx context.Context, rawURL string) ([]models.ProductRecord, models.PageKind, error) {
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}

	routed := parser.Route(page)
	if routed.Structured {
		return []models.ProductRecord{routed.Record}, models.KindStructured, nil
	}

	doc, err := parser.NewDocument(routed.Markup, page.URL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse page: %w", err)
	}

	classified := s.classifier.Classify(doc)
	rows, err := s.extract(classified)
	if err != nil {
		return nil, classified.Kind(), err
	}
	return rows, classified.Kind(), nil
}

func (s *Service) extract(page parser.Page) ([]models.ProductRecord, error) {
	switch p := page.(type) {
	case *parser.DetailPage:
		return []models.ProductRecord{s.detail.Extract(p.Doc)}, nil
	case *parser.ListingPage:
		return s.listing.Extract(p), nil
	default:
		return nil, fmt.Errorf("unsupported page type %T", page)
	}
}

// ExtractBatch processes every URL concurrently and returns the rows grouped
// per input URL in input order. A failing URL contributes one error row and
// never affects the others.
func (s *Service) ExtractBatch(ctx context.Context, urls []string) []models.ProductRecord {
	start := time.Now()
	s.recorder.ObserveBatch(len(urls))

	results := make([][]models.ProductRecord, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for i, u := range urls {
		g.Go(func() error {
			results[i] = s.safeExtract(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	var rows []models.ProductRecord
	failed := 0
	for _, r := range results {
		for _, rec := range r {
			if rec.Failed() {
				failed++
			}
		}
		rows = append(rows, r...)
	}

	s.logger.Info("batch finished",
		"urls", len(urls),
		"rows", len(rows),
		"failed", failed,
		"duration", time.Since(start),
	)
	return rows
}

// safeExtract is the only place where pipeline failures become rows. Errors
// and panics alike produce a single record carrying the URL and the message.
func (s *Service) safeExtract(ctx context.Context, rawURL string) (rows []models.ProductRecord) {
	rawURL = strings.TrimSpace(rawURL)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.recorder.ObservePanic()
			s.logger.Error("extraction panicked",
				"url", rawURL,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err := fmt.Errorf("internal error: %v", r)
			s.recorder.ObserveURL("", err, time.Since(start), 1)
			rows = []models.ProductRecord{models.NewErrorRecord(rawURL, err)}
		}
	}()

	recs, kind, err := s.ExtractOne(ctx, rawURL)
	if err != nil {
		s.logger.Warn("extraction failed", "url", rawURL, "error", err)
		s.recorder.ObserveURL(kind, err, time.Since(start), 1)
		return []models.ProductRecord{models.NewErrorRecord(rawURL, err)}
	}

	s.logger.Debug("extraction finished", "url", rawURL, "kind", kind, "rows", len(recs))
	s.recorder.ObserveURL(kind, nil, time.Since(start), len(recs))
	return recs
}
