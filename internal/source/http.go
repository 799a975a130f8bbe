package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/tickvault/tickvault/internal/dataset"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
)

// Config holds HTTP source configuration.
type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

// DefaultConfig returns default HTTP source configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8642",
		RequestTimeout: 30 * time.Second,
	}
}

// HTTPSource fetches bars from a JSON chart endpoint:
//
//	GET <base>/v1/chart/<TICKER>?interval=<interval>&from=<ms>&to=<ms>
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
	log     *slog.Logger

	mu          sync.Mutex
	requests    int64
	errCount    int64
	rowsFetched int64
	latency     *ddsketch.DDSketch
}

// Stats is a snapshot of source activity. Latency quantiles are in
// milliseconds and zero until the first completed request.
type Stats struct {
	Requests     int64
	Errors       int64
	RowsFetched  int64
	LatencyP50Ms float64
	LatencyP95Ms float64
	LatencyP99Ms float64
}

// chartResponse is the upstream wire shape.
type chartResponse struct {
	Ticker   string     `json:"ticker"`
	Interval string     `json:"interval"`
	Bars     []chartBar `json:"bars"`
}

type chartBar struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	AdjClose    float64 `json:"adj_close"`
	Volume      int64   `json:"volume"`
}

// NewHTTP creates an HTTP source.
func NewHTTP(cfg *Config) *HTTPSource {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		log:     logging.Component("source"),
	}

	// Relative accuracy of 1%, same as the storage aggregates.
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err == nil {
		s.latency = sketch
	}

	return s
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, ticker, interval string, w Window) ([]dataset.Bar, error) {
	u := fmt.Sprintf("%s/v1/chart/%s", s.baseURL, url.PathEscape(strings.ToUpper(ticker)))
	q := url.Values{}
	q.Set("interval", interval)
	if w.StartMs > 0 {
		q.Set("from", strconv.FormatInt(w.StartMs, 10))
	}
	if w.EndMs > 0 {
		q.Set("to", strconv.FormatInt(w.EndMs, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		s.recordError()
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	s.recordLatency(elapsed)

	if resp.StatusCode != http.StatusOK {
		s.recordError()
		return nil, statusError(resp.StatusCode, ticker)
	}

	var cr chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		s.recordError()
		return nil, fmt.Errorf("decode chart response: %v: %w", err, errors.ErrUpstream)
	}

	bars := make([]dataset.Bar, 0, len(cr.Bars))
	for _, cb := range cr.Bars {
		bars = append(bars, dataset.Bar{
			Ticker:      strings.ToUpper(ticker),
			TimestampMs: cb.TimestampMs,
			Open:        cb.Open,
			High:        cb.High,
			Low:         cb.Low,
			Close:       cb.Close,
			AdjClose:    cb.AdjClose,
			Volume:      cb.Volume,
		})
	}

	s.mu.Lock()
	s.requests++
	s.rowsFetched += int64(len(bars))
	s.mu.Unlock()

	s.log.Debug("fetched bars",
		"ticker", ticker,
		"interval", interval,
		"rows", len(bars),
		"elapsed_ms", elapsed.Milliseconds())
	return bars, nil
}

// Stats returns a snapshot of source activity.
func (s *HTTPSource) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Requests:    s.requests,
		Errors:      s.errCount,
		RowsFetched: s.rowsFetched,
	}
	if s.latency != nil && s.latency.GetCount() > 0 {
		stats.LatencyP50Ms, _ = s.latency.GetValueAtQuantile(0.50)
		stats.LatencyP95Ms, _ = s.latency.GetValueAtQuantile(0.95)
		stats.LatencyP99Ms, _ = s.latency.GetValueAtQuantile(0.99)
	}
	return stats
}

func (s *HTTPSource) recordLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latency != nil {
		s.latency.Add(float64(d.Nanoseconds()) / 1e6)
	}
}

func (s *HTTPSource) recordError() {
	s.mu.Lock()
	s.errCount++
	s.requests++
	s.mu.Unlock()
}

// classifyTransport maps transport failures onto the error taxonomy.
// The transport detail stays in the message; callers match on the
// sentinel.
func classifyTransport(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("fetch: %v: %w", err, errors.ErrTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("fetch: %v: %w", err, errors.ErrTimeout)
	}
	return fmt.Errorf("fetch: %v: %w", err, errors.ErrConnectionFailed)
}

// statusError maps upstream HTTP statuses onto the error taxonomy.
func statusError(code int, ticker string) error {
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("ticker %s: %w", ticker, errors.ErrTickerNotFound)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", code, errors.ErrRateLimited)
	default:
		return fmt.Errorf("status %d: %w", code, errors.ErrUpstream)
	}
}
