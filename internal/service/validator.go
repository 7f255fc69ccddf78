package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// allowedImageTypes is the content-type allow-list for a valid image.
var allowedImageTypes = map[string]struct{}{
	"image/jpeg":    {},
	"image/jpg":     {},
	"image/png":     {},
	"image/gif":     {},
	"image/webp":    {},
	"image/svg+xml": {},
	"image/bmp":     {},
	"image/tiff":    {},
}

// ValidatorConfig holds configuration for the URL validator.
type ValidatorConfig struct {
	Timeout       time.Duration
	MaxConcurrent int
	MaxRedirects  int
	UserAgent     string
}

// URLValidator checks that image URLs resolve to image content using HEAD
// requests. A batch runs at most MaxConcurrent checks at once, and
// concurrent batches share in-flight checks of the same URL.
type URLValidator struct {
	client   *resty.Client
	timeout  time.Duration
	limit    int
	inflight singleflight.Group
	metrics  *metrics.Metrics

	mu    sync.Mutex
	stats ValidatorStats
}

// ValidatorStats counts the network checks performed by a validator.
type ValidatorStats struct {
	Checked    int                          `json:"checked"`
	Valid      int                          `json:"valid"`
	Invalid    int                          `json:"invalid"`
	ByCategory map[domain.ErrorCategory]int `json:"by_category"`
	ByHost     map[string]HostStats         `json:"by_host"`
}

// HostStats is the per-host part of ValidatorStats.
type HostStats struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// NewURLValidator creates a URLValidator.
// Parameters:
//   - cfg: validator configuration; zero values use 3s timeout, 10 concurrent checks.
//   - m: metrics sink, may be nil.
// Returns:
//   - *URLValidator: initialized validator.
func NewURLValidator(cfg *ValidatorConfig, m *metrics.Metrics) *URLValidator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 10
	}
	redirects := cfg.MaxRedirects
	if redirects <= 0 {
		redirects = 5
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "slidefix-image-validator/1.0"
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(redirects)).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "image/*")

	return &URLValidator{
		client:  client,
		timeout: timeout,
		limit:   limit,
		metrics: m,
		stats:   newValidatorStats(),
	}
}

func newValidatorStats() ValidatorStats {
	return ValidatorStats{
		ByCategory: make(map[domain.ErrorCategory]int),
		ByHost:     make(map[string]HostStats),
	}
}

// ValidateBatch validates urls and returns one result per input, in input
// order. Duplicate inputs share one check and get identical results.
// Results are not kept after the call returns.
func (v *URLValidator) ValidateBatch(ctx context.Context, urls []string) []domain.ValidationResult {
	if len(urls) == 0 {
		return nil
	}

	index := make(map[string]int, len(urls))
	var distinct []string
	for _, u := range urls {
		key := strings.TrimSpace(u)
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = len(distinct)
		distinct = append(distinct, key)
	}

	results := make([]domain.ValidationResult, len(distinct))
	var g errgroup.Group
	g.SetLimit(v.limit)
	skipped := 0
	for i, u := range distinct {
		if ctx.Err() != nil {
			results[i] = abandoned(u)
			skipped++
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = abandoned(u)
				return nil
			}
			results[i] = v.shared(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.ValidationResult, len(urls))
	valid := 0
	for i, u := range urls {
		r := results[index[strings.TrimSpace(u)]]
		r.URL = u
		out[i] = r
		if r.Valid {
			valid++
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(urls),
		"distinct":        len(distinct),
		"valid":           valid,
		"skipped":         skipped,
	}).Debug(ctx, "Validated URL batch")
	return out
}

// shared runs check once per URL across concurrent callers. The check itself
// is detached from the caller's cancellation so one document giving up does
// not fail another document waiting on the same URL; the caller stops
// waiting as soon as its own context is done.
func (v *URLValidator) shared(ctx context.Context, u string) domain.ValidationResult {
	ch := v.inflight.DoChan(u, func() (interface{}, error) {
		return v.check(context.WithoutCancel(ctx), u), nil
	})
	select {
	case res := <-ch:
		return res.Val.(domain.ValidationResult)
	case <-ctx.Done():
		return abandoned(u)
	}
}

// abandoned is the result for a URL whose caller ran out of time before the
// check finished or started. It is not counted in the validator stats.
func abandoned(u string) domain.ValidationResult {
	res := domain.ValidationResult{
		URL:           u,
		ErrorCategory: domain.ErrorCategoryTimeout,
		Error:         "time budget exhausted before the check completed",
	}
	res.ImageID, res.SourceProvider = ExtractImageID(u)
	return res
}

// Validate checks a single URL.
func (v *URLValidator) Validate(ctx context.Context, u string) domain.ValidationResult {
	return v.ValidateBatch(ctx, []string{u})[0]
}

func (v *URLValidator) check(ctx context.Context, rawURL string) (res domain.ValidationResult) {
	start := time.Now()
	res = domain.ValidationResult{URL: rawURL}
	res.ImageID, res.SourceProvider = ExtractImageID(rawURL)

	defer func() {
		res.Duration = time.Since(start)
		v.record(rawURL, res)
	}()

	if isDataImage(rawURL) {
		res.Valid = true
		res.ContentType = dataMediaType(rawURL)
		return res
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		res.ErrorCategory = domain.ErrorCategoryNetwork
		res.Error = "unsupported or malformed URL"
		return res
	}

	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.client.R().SetContext(reqCtx).Head(rawURL)
	if err != nil {
		if isTimeout(err) {
			res.ErrorCategory = domain.ErrorCategoryTimeout
			res.Error = fmt.Sprintf("no response within %s", v.timeout)
		} else {
			res.ErrorCategory = domain.ErrorCategoryNetwork
			res.Error = err.Error()
		}
		return res
	}

	res.StatusCode = resp.StatusCode()
	res.ContentType = resp.Header().Get("Content-Type")
	if cl := resp.Header().Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			res.ContentLength = n
		}
	}

	if res.StatusCode != 200 {
		res.ErrorCategory = domain.ErrorCategoryHTTP
		res.Error = fmt.Sprintf("unexpected status %d", res.StatusCode)
		return res
	}
	if _, ok := allowedImageTypes[mediaType(res.ContentType)]; !ok {
		res.ErrorCategory = domain.ErrorCategoryBadContentType
		res.Error = fmt.Sprintf("content type %q is not an image", res.ContentType)
		return res
	}

	res.Valid = true
	return res
}

func (v *URLValidator) record(rawURL string, res domain.ValidationResult) {
	outcome := "valid"
	if !res.Valid {
		outcome = string(res.ErrorCategory)
	}
	v.metrics.ObserveURLCheck(outcome, res.Duration)

	host := HostOf(rawURL)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats.Checked++
	hs := v.stats.ByHost[host]
	if res.Valid {
		v.stats.Valid++
		hs.Valid++
	} else {
		v.stats.Invalid++
		v.stats.ByCategory[res.ErrorCategory]++
		hs.Invalid++
	}
	v.stats.ByHost[host] = hs
}

// Stats returns a copy of the validator's counters.
func (v *URLValidator) Stats() ValidatorStats {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := ValidatorStats{
		Checked:    v.stats.Checked,
		Valid:      v.stats.Valid,
		Invalid:    v.stats.Invalid,
		ByCategory: make(map[domain.ErrorCategory]int, len(v.stats.ByCategory)),
		ByHost:     make(map[string]HostStats, len(v.stats.ByHost)),
	}
	for k, n := range v.stats.ByCategory {
		out.ByCategory[k] = n
	}
	for k, hs := range v.stats.ByHost {
		out.ByHost[k] = hs
	}
	return out
}

// WorstHosts returns up to n hosts ordered by invalid count.
func (s ValidatorStats) WorstHosts(n int) []string {
	var hosts []string
	for h, hs := range s.ByHost {
		if hs.Invalid > 0 {
			hosts = append(hosts, h)
		}
	}
	sort.Slice(hosts, func(i, j int) bool {
		a, b := s.ByHost[hosts[i]], s.ByHost[hosts[j]]
		if a.Invalid != b.Invalid {
			return a.Invalid > b.Invalid
		}
		return hosts[i] < hosts[j]
	})
	if len(hosts) > n {
		hosts = hosts[:n]
	}
	return hosts
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func dataMediaType(rawURL string) string {
	rest := strings.TrimSpace(rawURL)[len("data:"):]
	mt, _, _ := strings.Cut(rest, ",")
	mt, _, _ = strings.Cut(mt, ";")
	return strings.ToLower(mt)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
