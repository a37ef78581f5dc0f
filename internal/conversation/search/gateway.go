package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sandbridge/sandbridge/internal/common/logger"
)

// Result is one search hit.
type Result struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// LocalFunc searches the local store. Used directly when no remote is
// configured and as the fallback while the remote is cooling down.
type LocalFunc func(ctx context.Context, query string, limit int) ([]Result, error)

// Gateway searches conversations via a remote service with local fallback.
// Any remote failure, a transport error, a non-2xx status, or an undecodable
// body, trips the breaker so subsequent requests go straight to the local
// store until the cooldown elapses.
type Gateway struct {
	remoteURL string
	cooldown  time.Duration
	client    *http.Client
	breaker   *Breaker
	local     LocalFunc
	logger    *logger.Logger
	now       func() time.Time
}

// NewGateway creates a search gateway. An empty remoteURL disables the remote
// path entirely.
func NewGateway(remoteURL string, cooldown, requestTimeout time.Duration, local LocalFunc, log *logger.Logger) *Gateway {
	return &Gateway{
		remoteURL: remoteURL,
		cooldown:  cooldown,
		client:    &http.Client{Timeout: requestTimeout},
		breaker:   &Breaker{},
		local:     local,
		logger:    log.WithFields(zap.String("component", "search_gateway")),
		now:       time.Now,
	}
}

// Search returns matching conversations. The remote is preferred; the local
// store serves requests while the remote is unconfigured or cooling down.
func (g *Gateway) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if g.remoteURL == "" {
		return g.local(ctx, query, limit)
	}

	allowed, observed := g.breaker.Allow(g.now())
	if !allowed {
		return g.local(ctx, query, limit)
	}

	results, err := g.searchRemote(ctx, query, limit)
	if err != nil {
		g.breaker.Trip(g.now(), g.cooldown)
		g.logger.WithError(err).Warn("remote search failed, falling back to local",
			zap.Duration("cooldown", g.cooldown))
		return g.local(ctx, query, limit)
	}

	g.breaker.Reset(observed)
	return results, nil
}

func (g *Gateway) searchRemote(ctx context.Context, query string, limit int) ([]Result, error) {
	u, err := url.Parse(g.remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build remote search request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote search returned status %d", resp.StatusCode)
	}

	var body struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode remote search response: %w", err)
	}
	// An empty remote result is treated as a failure so the local store
	// gets a chance to serve hits the remote has not indexed yet.
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("remote search returned no results")
	}
	return body.Results, nil
}
