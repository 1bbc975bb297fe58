package panel

import (
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
	"golang.org/x/time/rate"
)

// Sentinel errors for account lookups.
var (
	// ErrAccountNotFound is returned when no account matches the domain.
	ErrAccountNotFound = errors.New("panel: account not found")

	// ErrAccountExists is returned by CreateAccount when the panel
	// rejects the request because the account already exists.
	ErrAccountExists = errors.New("panel: account already exists")
)

// Account is a hosting account as reported by the panel.
type Account struct {
	User      string `json:"user"`
	Domain    string `json:"domain"`
	Plan      string `json:"plan"`
	IP        string `json:"ip"`
	Email     string `json:"email"`
	Suspended bool   `json:"suspended"`
}

// CreateParams are the inputs to CreateAccount.
type CreateParams struct {
	Username string
	Domain   string
	Password string
	Plan     string
	Email    string
}

// CreateResult reports the account the panel provisioned.
type CreateResult struct {
	User   string
	Domain string
	IP     string
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outbound calls at r per second with burst b.
func WithRateLimit(r float64, b int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(r), b) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client calls the panel's JSON API. All methods honor ctx and return
// wrapped errors; transport and API-level failures both count against
// the circuit breaker.
type Client struct {
	base    string
	user    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a panel client for the given base URL and API token.
func New(baseURL, user, token string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		user:    user,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "panel",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})
	return c
}

// metadata is the WHM-style response envelope.
type metadata struct {
	Result int    `json:"result"`
	Reason string `json:"reason"`
}

// Ping verifies the panel is reachable and the token is valid.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Metadata metadata `json:"metadata"`
	}
	if err := c.call(ctx, "version", nil, &resp); err != nil {
		return fmt.Errorf("panel: ping: %w", err)
	}
	if resp.Metadata.Result != 1 {
		return fmt.Errorf("panel: ping rejected: %s", resp.Metadata.Reason)
	}
	return nil
}

// FindAccount looks up the account owning the given domain.
func (c *Client) FindAccount(ctx context.Context, domain string) (*Account, error) {
	var resp struct {
		Metadata metadata `json:"metadata"`
		Data     struct {
			Accounts []struct {
				User      string `json:"user"`
				Domain    string `json:"domain"`
				Plan      string `json:"plan"`
				IP        string `json:"ip"`
				Email     string `json:"email"`
				Suspended int    `json:"suspended"`
			} `json:"acct"`
		} `json:"data"`
	}
	params := url.Values{"search": {domain}, "searchtype": {"domain"}}
	if err := c.call(ctx, "listaccts", params, &resp); err != nil {
		return nil, fmt.Errorf("panel: find account: %w", err)
	}
	if resp.Metadata.Result != 1 {
		return nil, fmt.Errorf("panel: find account: %s", resp.Metadata.Reason)
	}
	for _, a := range resp.Data.Accounts {
		if strings.EqualFold(a.Domain, domain) {
			return &Account{
				User:      a.User,
				Domain:    a.Domain,
				Plan:      a.Plan,
				IP:        a.IP,
				Email:     a.Email,
				Suspended: a.Suspended != 0,
			}, nil
		}
	}
	return nil, ErrAccountNotFound
}

// AccountExists reports whether an account owns the given domain.
func (c *Client) AccountExists(ctx context.Context, domain string) (bool, error) {
	_, err := c.FindAccount(ctx, domain)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateAccount provisions a new hosting account.
func (c *Client) CreateAccount(ctx context.Context, p CreateParams) (*CreateResult, error) {
	var resp struct {
		Metadata metadata `json:"metadata"`
		Data     struct {
			IP string `json:"ip"`
		} `json:"data"`
	}
	params := url.Values{
		"username": {p.Username},
		"domain":   {p.Domain},
		"password": {p.Password},
	}
	if p.Plan != "" {
		params.Set("plan", p.Plan)
	}
	if p.Email != "" {
		params.Set("contactemail", p.Email)
	}
	if err := c.call(ctx, "createacct", params, &resp); err != nil {
		return nil, fmt.Errorf("panel: create account: %w", err)
	}
	if resp.Metadata.Result != 1 {
		if strings.Contains(strings.ToLower(resp.Metadata.Reason), "already exists") {
			return nil, fmt.Errorf("panel: create account %q: %w", p.Domain, ErrAccountExists)
		}
		return nil, fmt.Errorf("panel: create account %q: %s", p.Domain, resp.Metadata.Reason)
	}
	return &CreateResult{User: p.Username, Domain: p.Domain, IP: resp.Data.IP}, nil
}

// DeleteAccount removes the hosting account with the given username.
func (c *Client) DeleteAccount(ctx context.Context, user string) error {
	var resp struct {
		Metadata metadata `json:"metadata"`
	}
	params := url.Values{"user": {user}}
	if err := c.call(ctx, "removeacct", params, &resp); err != nil {
		return fmt.Errorf("panel: delete account: %w", err)
	}
	if resp.Metadata.Result != 1 {
		return fmt.Errorf("panel: delete account %q: %s", user, resp.Metadata.Reason)
	}
	return nil
}

// call performs one rate-limited, breaker-guarded JSON API request.
func (c *Client) call(ctx context.Context, fn string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.base + "/json-api/" + fn + "?api.version=1"
	if len(params) > 0 {
		u += "&" + params.Encode()
	}

	body, err := c.breaker.Execute(func() (any, error) {
		req, rErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if rErr != nil {
			return nil, rErr
		}
		req.Header.Set("Authorization", "whm "+c.user+":"+c.token)

		resp, dErr := c.http.Do(req)
		if dErr != nil {
			return nil, dErr
		}
		defer resp.Body.Close()

		b, rdErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if rdErr != nil {
			return nil, rdErr
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return b, nil
	})
	if err != nil {
		return err
	}

	raw, _ := body.([]byte)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
