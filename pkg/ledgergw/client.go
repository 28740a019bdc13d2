package ledgergw

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

	"github.com/trang393934/angelaithutrang-sub004/pkg/contracts"
	"github.com/trang393934/angelaithutrang-sub004/pkg/resiliency"
)

// errTransport marks failures where no ledger response was received.
var errTransport = errors.New("ledgergw: transport failure")

// Client talks to a remote ledger service. Every call runs through a circuit
// breaker and a bounded retry loop; retried mutations are safe because the
// ledger deduplicates by reference.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	policy  resiliency.Policy
	breaker *resiliency.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		policy:  resiliency.DefaultPolicy,
		breaker: resiliency.NewCircuitBreaker("ledger", 5, 10*time.Second),
		logger:  slog.Default().With("component", "ledgergw.client"),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// WithRetryPolicy replaces the retry policy.
func (c *Client) WithRetryPolicy(p resiliency.Policy) *Client {
	c.policy = p
	return c
}

// WithBreaker replaces the circuit breaker.
func (c *Client) WithBreaker(cb *resiliency.CircuitBreaker) *Client {
	c.breaker = cb
	return c
}

func (c *Client) Lock(ctx context.Context, req LockRequest) (*Receipt, error) {
	var out Receipt
	if err := c.call(ctx, http.MethodPost, "/v1/ledger/lock", OpLock+":"+req.Ref, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Activate(ctx context.Context, req TransitionRequest) (*Receipt, error) {
	var out Receipt
	if err := c.call(ctx, http.MethodPost, "/v1/ledger/activate", OpActivate+":"+req.Ref, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Claim(ctx context.Context, req TransitionRequest) (*Receipt, error) {
	var out Receipt
	if err := c.call(ctx, http.MethodPost, "/v1/ledger/claim", OpClaim+":"+req.Ref, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reverse(ctx context.Context, req ReverseRequest) (*Receipt, error) {
	var out Receipt
	if err := c.call(ctx, http.MethodPost, "/v1/ledger/reverse", OpReverse+":"+req.Ref, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Allocation(ctx context.Context, actorID string) (*contracts.Allocation, error) {
	var out contracts.Allocation
	path := "/v1/ledger/allocations/" + url.PathEscape(actorID)
	if err := c.call(ctx, http.MethodGet, path, "allocation:"+actorID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func retryable(err error) bool {
	if errors.Is(err, resiliency.ErrOpen) {
		return false
	}
	return errors.Is(err, errTransport) || contracts.IsRetryable(err)
}

// countable reports whether err says the ledger itself is unhealthy, as
// opposed to a business rejection.
func countable(err error) bool {
	return errors.Is(err, errTransport) || contracts.CodeOf(err) == contracts.CodeInternal
}

func (c *Client) call(ctx context.Context, method, path, key string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("ledgergw: encode request: %w", err)
		}
	}
	err := resiliency.Retry(ctx, c.policy, key, retryable, func(ctx context.Context, attempt int) error {
		err := c.breaker.Do(func() error { return c.once(ctx, method, path, payload, out) }, countable)
		if err != nil && attempt > 0 {
			c.logger.Warn("ledger call retry failed", "path", path, "attempt", attempt, "error", err)
		}
		return err
	})
	if errors.Is(err, resiliency.ErrOpen) {
		return contracts.WrapError(contracts.CodeLedgerPaused, ReasonUnavailable, err)
	}
	if errors.Is(err, errTransport) {
		return contracts.WrapError(contracts.CodeLedgerPaused, ReasonUnavailable, err)
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("ledgergw: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errTransport, err)
	}
	if resp.StatusCode >= 300 {
		var e contracts.Error
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			return &e
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", errTransport, resp.StatusCode)
		}
		return contracts.NewError(contracts.CodeInternal, "", "ledger returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ledgergw: decode response: %w", err)
	}
	return nil
}

var _ Gateway = (*Client)(nil)
