package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/maltedev/tablegen/internal/models"
)

var (
	// ErrFetch is the sentinel every FetchError unwraps to.
	ErrFetch = errors.New("fetch failed")
	// ErrBadStatus is returned for responses outside [200,400).
	ErrBadStatus = errors.New("unexpected status code")
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrBodyTooLarge is returned when a body exceeds Options.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
)

// FetchError describes a failed retrieval of a single URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetch, e.Err}
}

type Options struct {
	Timeout          time.Duration
	MaxRedirects     int
	UserAgent        string
	AcceptLanguage   string
	MaxBodyBytes     int64
	CloudflareBypass bool
}

func DefaultOptions() Options {
	return Options{
		Timeout:          20 * time.Second,
		MaxRedirects:     5,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage:   "en,de,zh-CN;q=0.9",
		MaxBodyBytes:     10 << 20,
		CloudflareBypass: true,
	}
}

// Retriever performs one bounded GET per URL. It holds no per-request state
// and is safe for concurrent use.
type Retriever struct {
	http    *resty.Client
	maxBody int64
	logger  *slog.Logger
}

func NewRetriever(opts Options, logger *slog.Logger) *Retriever {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = def.AcceptLanguage
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New()
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetTimeout(opts.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects))
	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetHeader("Accept-Language", opts.AcceptLanguage)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7")
	client.SetDoNotParseResponse(true)

	return &Retriever{
		http:    client,
		maxBody: opts.MaxBodyBytes,
		logger:  logger.With("component", "retriever"),
	}
}

// Fetch retrieves rawURL. Any failure is returned as a *FetchError.
func (r *Retriever) Fetch(ctx context.Context, rawURL string) (*models.RawPage, error) {
	target, err := validateURL(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	start := time.Now()
	res, err := r.http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	body := res.RawBody()
	defer body.Close()

	status := res.StatusCode()
	if status < http.StatusOK || status >= http.StatusBadRequest {
		return nil, &FetchError{URL: target, StatusCode: status, Err: ErrBadStatus}
	}

	data, err := io.ReadAll(io.LimitReader(body, r.maxBody+1))
	if err != nil {
		return nil, &FetchError{URL: target, StatusCode: status, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(data)) > r.maxBody {
		return nil, &FetchError{URL: target, StatusCode: status, Err: ErrBodyTooLarge}
	}

	r.logger.Debug("fetched page",
		"url", target,
		"status", status,
		"bytes", len(data),
		"duration", time.Since(start),
	)

	return &models.RawPage{
		URL:         target,
		ContentType: res.Header().Get("Content-Type"),
		StatusCode:  status,
		Body:        data,
	}, nil
}

func validateURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return u.String(), nil
}
