// Package census talks to the Census Bureau business patterns API (ZBP through 2018,
// CBP afterwards) at ZIP code granularity.
package census

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/census-naics/internal/metrics"
	"github.com/census-naics/internal/naics"
)

const (
	// DefaultBaseURL is the public Census data API root.
	DefaultBaseURL = "https://api.census.gov/data"

	// DefaultMaxRetries bounds consecutive retries after a 429.
	DefaultMaxRetries = 5

	zipWildcard = "zip code:*"
)

var (
	// ErrNoData means the API answered without data for the request (204, 404 or another
	// non-retryable status). It is permanent for the run.
	ErrNoData = errors.New("census: no data")

	// ErrRateLimited means every retry after a 429 was answered with another 429.
	ErrRateLimited = errors.New("census: rate limited, retries exhausted")
)

// FactRow is one ZIP level record of a business patterns response.
type FactRow struct {
	ZipCode        string
	NaicsCode      string
	Establishments int64
	Employees      int64
	Payroll        int64
}

// GeoLabel is one entry of the ZIP code name listing, e.g.
// {"94103", "ZIP 94103 (San Francisco, CA)"}.
type GeoLabel struct {
	GeoID string
	Label string
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	// Backoff returns the wait before retry attempt n (1-based). Defaults to 2^n seconds.
	Backoff    func(attempt int) time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client is an HTTP client for the Census business patterns datasets.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    func(int) time.Duration
	log        logrus.FieldLogger
}

// NewClient creates a Census API client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		log:        opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.backoff == nil {
		c.backoff = ExponentialBackoff
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// ExponentialBackoff waits 2^attempt seconds.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// Dataset names the API dataset serving a year: zbp up to 2018, cbp after.
func Dataset(year int) string {
	if year > 2018 {
		return "cbp"
	}
	return "zbp"
}

// FetchIndustry retrieves every ZIP level record of one industry code for a year.
// A 200 response with only a header yields no rows and no error.
func (c *Client) FetchIndustry(ctx context.Context, code string, year int) ([]FactRow, error) {
	code = naics.NormalizeCode(code)
	rev := string(naics.RevisionForYear(year))

	query := []queryParam{
		{"get", "ZIPCODE," + rev + ",ESTAB,EMP,PAYANN"},
		{"for", zipWildcard},
		{rev, code},
	}
	log := c.log.WithFields(logrus.Fields{"year": year, "naics": code})

	table, err := c.getTable(ctx, year, query, log)
	if err != nil {
		return nil, fmt.Errorf("fetch naics %s for %d: %w", code, year, err)
	}

	rows := make([]FactRow, 0, len(table))
	for i, rec := range table {
		if len(rec) < 5 {
			return nil, fmt.Errorf("fetch naics %s for %d: row %d has %d columns", code, year, i+1, len(rec))
		}
		zip := cellString(rec[0])
		if zip == "" {
			zip = cellString(rec[len(rec)-1])
		}
		rows = append(rows, FactRow{
			ZipCode:        zip,
			NaicsCode:      strings.TrimSpace(cellString(rec[1])),
			Establishments: cellCount(rec[2]),
			Employees:      cellCount(rec[3]),
			Payroll:        cellCount(rec[4]),
		})
	}
	log.WithField("rows", len(rows)).Debug("Fetched industry")
	return rows, nil
}

// ListGeographies returns the ZIP code labels published for a year.
func (c *Client) ListGeographies(ctx context.Context, year int) ([]GeoLabel, error) {
	nameVar := "NAME"
	if year < 2017 {
		nameVar = "GEO_TTL"
	}
	query := []queryParam{
		{"get", nameVar},
		{"for", zipWildcard},
	}
	log := c.log.WithField("year", year)

	table, err := c.getTable(ctx, year, query, log)
	if err != nil {
		return nil, fmt.Errorf("list geographies for %d: %w", year, err)
	}

	labels := make([]GeoLabel, 0, len(table))
	for _, rec := range table {
		if len(rec) < 2 {
			continue
		}
		labels = append(labels, GeoLabel{GeoID: cellString(rec[1]), Label: cellString(rec[0])})
	}
	return labels, nil
}

type queryParam struct {
	key, value string
}

func (c *Client) requestURL(year int, query []queryParam) string {
	parts := make([]string, 0, len(query)+1)
	for _, p := range query {
		parts = append(parts, url.QueryEscape(p.key)+"="+escapeValue(p.value))
	}
	if c.apiKey != "" {
		parts = append(parts, "key="+url.QueryEscape(c.apiKey))
	}
	return fmt.Sprintf("%s/%d/%s?%s", c.baseURL, year, Dataset(year), strings.Join(parts, "&"))
}

// escapeValue keeps the separators the API expects literally and encodes spaces as %20.
func escapeValue(v string) string {
	escaped := url.QueryEscape(v)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	escaped = strings.ReplaceAll(escaped, "%2C", ",")
	escaped = strings.ReplaceAll(escaped, "%3A", ":")
	escaped = strings.ReplaceAll(escaped, "%2A", "*")
	return escaped
}

// getTable performs the request, retrying 429 responses with backoff, and returns the
// JSON table without its header row.
func (c *Client) getTable(ctx context.Context, year int, query []queryParam, log logrus.FieldLogger) ([][]any, error) {
	dataset := Dataset(year)
	fullURL := c.requestURL(year, query)

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		status, body, err := c.do(ctx, fullURL)
		if err != nil {
			metrics.CensusRequests.WithLabelValues(dataset, "error").Inc()
			return nil, err
		}
		metrics.CensusRequests.WithLabelValues(dataset, strconv.Itoa(status)).Inc()

		switch status {
		case http.StatusOK:
			return decodeTable(body)
		case http.StatusTooManyRequests:
			if attempt > c.maxRetries {
				log.WithField("attempts", attempt).Warn("Max retry attempts reached")
				return nil, ErrRateLimited
			}
			wait := c.backoff(attempt)
			metrics.CensusRetries.WithLabelValues(dataset).Inc()
			log.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).Warn("Rate limit exceeded, retrying")
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		default:
			log.WithField("status", status).Debug("No data")
			return nil, fmt.Errorf("%w: status %d", ErrNoData, status)
		}
	}
}

func (c *Client) do(ctx context.Context, fullURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("census request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read census response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeTable(body []byte) ([][]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var table [][]any
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("decode census response: %w", err)
	}
	if len(table) <= 1 {
		return nil, nil
	}
	return table[1:], nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// cellCount reads a count column. Nulls, blanks and suppression markers count as zero.
func cellCount(v any) int64 {
	var n int64
	switch val := v.(type) {
	case float64:
		n = int64(val)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	}
	if n < 0 {
		return 0
	}
	return n
}
