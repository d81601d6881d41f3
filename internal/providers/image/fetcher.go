package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"archivision/internal/domain"
)

const (
	fetchOp                = "fetch"
	defaultFetchTimeout    = 30 * time.Second
	defaultFetchMaxBytes   = 32 << 20
	defaultFetchConcurrent = 3
)

type FetcherOptions struct {
	HTTPClient  *http.Client
	MaxBytes    int64
	Concurrency int
	Logger      *zerolog.Logger
}

// Fetcher downloads generated images and decodes them into PNG payloads.
// It performs one GET per location and never retries or caches.
type Fetcher struct {
	client      *http.Client
	maxBytes    int64
	concurrency int
	logger      zerolog.Logger
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultFetchMaxBytes
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrent
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Fetcher{client: client, maxBytes: maxBytes, concurrency: concurrency, logger: logger}
}

// Fetch resolves a single location. Every error is a KindFetch failure.
func (f *Fetcher) Fetch(ctx context.Context, location string) (*domain.BatchImage, error) {
	parsed, err := url.Parse(strings.TrimSpace(location))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, domain.Failuref(domain.KindFetch, fetchOp, "invalid_url", "invalid image url: %q", location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, domain.NewFailure(domain.KindFetch, fetchOp, "build_request", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, domain.NewFailure(domain.KindFetch, fetchOp, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Failuref(domain.KindFetch, fetchOp, fmt.Sprintf("http_%d", resp.StatusCode), "GET %s returned %d", parsed.Redacted(), resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, domain.NewFailure(domain.KindFetch, fetchOp, "read_body", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, domain.Failuref(domain.KindFetch, fetchOp, "too_large", "image exceeds %d bytes", f.maxBytes)
	}
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewFailure(domain.KindFetch, fetchOp, "decode", err)
	}
	encoded, err := encodePNG(decoded, format, data)
	if err != nil {
		return nil, domain.NewFailure(domain.KindFetch, fetchOp, "encode_png", err)
	}
	bounds := decoded.Bounds()
	return &domain.BatchImage{
		SourceURL:    parsed.String(),
		SourceFormat: format,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		PNG:          encoded,
	}, nil
}

// FetchBatch fetches all locations concurrently. A failed location is
// skipped; every decoded image keeps the index of its location.
func (f *Fetcher) FetchBatch(ctx context.Context, locations []string) Report {
	slots := make([]*domain.BatchImage, len(locations))
	errs := make([]error, len(locations))

	var eg errgroup.Group
	eg.SetLimit(f.concurrency)
	for i, location := range locations {
		i, location := i, location
		eg.Go(func() error {
			img, err := f.Fetch(ctx, location)
			if err != nil {
				errs[i] = err
				return nil
			}
			img.Index = i
			slots[i] = img
			return nil
		})
	}
	_ = eg.Wait()

	var report Report
	for i := range locations {
		if slots[i] != nil {
			report.Images = append(report.Images, *slots[i])
			continue
		}
		reason := "unknown"
		var failure *domain.Failure
		if errors.As(errs[i], &failure) {
			reason = failure.Reason
		}
		f.logger.Warn().Err(errs[i]).Int("index", i).Str("reason", reason).Msg("fetch: skipping image")
		report.Failures = append(report.Failures, domain.FetchFailure{Index: i, SourceURL: locations[i], Reason: reason})
	}
	f.logger.Debug().Int("requested", len(locations)).Int("decoded", len(report.Images)).Msg("fetch: batch resolved")
	return report
}

var _ BatchFetcher = (*Fetcher)(nil)

func encodePNG(img image.Image, format string, raw []byte) ([]byte, error) {
	if format == "png" {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
