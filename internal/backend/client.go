// Package backend is the HTTP client for the production records service.
//
// The service stores entries and renders spreadsheet exports. Only its wire
// contract is known here:
//
//	POST /api/production                         JSON entry -> JSON record
//	GET  /api/production/export?date_str=&shift=  -> xlsx bytes
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Endpoint paths, relative to the base URL.
const (
	RecordsPath = "/api/production"
	ExportPath  = "/api/production/export"
)

// Entry is the create-record request body. Empty optional fields are left out
// of the JSON entirely; Count and Defects are always sent.
type Entry struct {
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	Shift    string `json:"shift,omitempty"`
	Line     string `json:"line,omitempty"`
	Product  string `json:"product,omitempty"`
	Operator string `json:"operator,omitempty"`
	Count    int    `json:"count"`
	Defects  int    `json:"defects"`
	Notes    string `json:"notes,omitempty"`
}

// Record is what the service answers after storing an Entry. Date and Shift
// are the only fields the service guarantees.
type Record struct {
	ID       string `json:"id,omitempty"`
	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
	Shift    string `json:"shift"`
	Line     string `json:"line,omitempty"`
	Product  string `json:"product,omitempty"`
	Operator string `json:"operator,omitempty"`
	Count    int    `json:"count"`
	Defects  int    `json:"defects"`
	Notes    string `json:"notes,omitempty"`
}

// Client talks to one backend base URL.
type Client struct {
	baseURL string
	hc      *http.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout bounds every request. Zero keeps the default of no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.hc = &http.Client{Transport: c.hc.Transport, Timeout: d}
		}
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a client for baseURL. A trailing slash on baseURL is ignored.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateRecord stores e and returns the service's confirmation. A non-2xx
// answer is returned as *StatusError carrying the response text.
func (c *Client) CreateRecord(ctx context.Context, e Entry) (*Record, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RecordsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("create record failed", zap.Error(err))
		return nil, fmt.Errorf("create record: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug("create record",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("date", e.Date),
		zap.String("shift", e.Shift))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read create response: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &StatusError{Op: "create record", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return &rec, nil
}

// Export requests the spreadsheet for date and shift. On success the caller
// owns the returned body and must close it.
func (c *Client) Export(ctx context.Context, date, shift string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ExportURL(date, shift), nil)
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("export failed", zap.Error(err))
		return nil, fmt.Errorf("export: %w", err)
	}
	c.log.Debug("export",
		zap.Int("status", resp.StatusCode),
		zap.String("date", date),
		zap.String("shift", shift))

	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Op: "export", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp.Body, nil
}

// ExportURL is the full export address for date and shift.
func (c *Client) ExportURL(date, shift string) string {
	v := url.Values{}
	v.Set("date_str", date)
	v.Set("shift", shift)
	return c.baseURL + ExportPath + "?" + v.Encode()
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
