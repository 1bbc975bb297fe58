package dnsprov

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Record is one DNS record in a zone.
type Record struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.base = strings.TrimRight(u, "/") }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client manages records in a single DNS zone.
type Client struct {
	base    string
	token   string
	zone    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a DNS client scoped to one zone ID.
func New(token, zoneID string, opts ...Option) *Client {
	c := &Client{
		base:   "https://api.cloudflare.com/client/v4",
		token:  token,
		zone:   zoneID,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dnsprov",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})
	return c
}

// envelope is the v4 API response wrapper.
type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

func (e *envelope) err() error {
	if e.Success {
		return nil
	}
	if len(e.Errors) > 0 {
		return fmt.Errorf("api error %d: %s", e.Errors[0].Code, e.Errors[0].Message)
	}
	return errors.New("api error")
}

// ListRecords returns records in the zone, optionally filtered by name.
func (c *Client) ListRecords(ctx context.Context, name string) ([]Record, error) {
	path := "/zones/" + c.zone + "/dns_records"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}
	env, err := c.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("dnsprov: list records: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, fmt.Errorf("dnsprov: list records: decode: %w", err)
	}
	return records, nil
}

// UpsertRecord creates the record, or updates the existing record with
// the same type and name.
func (c *Client) UpsertRecord(ctx context.Context, r Record) (*Record, error) {
	existing, err := c.ListRecords(ctx, r.Name)
	if err != nil {
		return nil, err
	}

	method, path := http.MethodPost, "/zones/"+c.zone+"/dns_records"
	for _, e := range existing {
		if e.Type == r.Type && strings.EqualFold(e.Name, r.Name) {
			method, path = http.MethodPut, path+"/"+e.ID
			break
		}
	}

	env, err := c.call(ctx, method, path, r)
	if err != nil {
		return nil, fmt.Errorf("dnsprov: upsert record %q: %w", r.Name, err)
	}
	var out Record
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return nil, fmt.Errorf("dnsprov: upsert record: decode: %w", err)
	}
	return &out, nil
}

// DeleteRecord removes all records matching the name. Deleting a name
// with no records is a no-op so cleanup stages stay idempotent.
func (c *Client) DeleteRecord(ctx context.Context, name string) error {
	records, err := c.ListRecords(ctx, name)
	if err != nil {
		return err
	}
	for _, r := range records {
		if !strings.EqualFold(r.Name, name) {
			continue
		}
		if _, err := c.call(ctx, http.MethodDelete, "/zones/"+c.zone+"/dns_records/"+r.ID, nil); err != nil {
			return fmt.Errorf("dnsprov: delete record %q: %w", name, err)
		}
	}
	return nil
}

// call performs one breaker-guarded API request.
func (c *Client) call(ctx context.Context, method, path string, body any) (*envelope, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		var rd io.Reader
		if body != nil {
			b, mErr := json.Marshal(body)
			if mErr != nil {
				return nil, mErr
			}
			rd = bytes.NewReader(b)
		}

		req, rErr := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if rErr != nil {
			return nil, rErr
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, dErr := c.http.Do(req)
		if dErr != nil {
			return nil, dErr
		}
		defer resp.Body.Close()

		raw, rdErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if rdErr != nil {
			return nil, rdErr
		}

		var env envelope
		if uErr := json.Unmarshal(raw, &env); uErr != nil {
			return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, uErr)
		}
		if eErr := env.err(); eErr != nil {
			return nil, eErr
		}
		return &env, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*envelope), nil
}
