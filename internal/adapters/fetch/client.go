// Package fetch holds the outbound HTTP adapters: notice documents, assessment pages,
// parcel boundaries and address geocoding. They share one rate-limited, retrying client.
package fetch

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"taxsale/internal/adapters/observability"
	"taxsale/internal/domain"
)

const maxBody = 64 << 20

type Client struct {
	service string
	hc      *http.Client
	ua      string
	rl      *rate.Limiter
}

type Options struct {
	Timeout   time.Duration
	RPS       float64
	UserAgent string
}

func NewClient(service string, o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.RPS <= 0 {
		o.RPS = 5
	}
	burst := int(o.RPS)
	if burst < 1 {
		burst = 1
	}
	if o.UserAgent == "" {
		o.UserAgent = "taxsale-ingestor/1.0"
	}
	return &Client{
		service: service,
		hc:      &http.Client{Timeout: o.Timeout},
		ua:      o.UserAgent,
		rl:      rate.NewLimiter(rate.Limit(o.RPS), burst),
	}
}

type response struct {
	body        []byte
	contentType string
	url         string
}

// get performs a GET with per-attempt client-side rate limiting and retries on 429 and transient 5xx,
// honoring Retry-After. 404 maps to domain.ErrNotFound, everything else that fails to
// ErrTransport. endpoint is the metrics label.
func (c *Client) get(ctx context.Context, endpoint, url, accept string) (response, error) {
	var lastErr error
	for i := 0; i < 4; i++ {
		// every attempt, retries included, spends a limiter token
		if err := c.rl.Wait(ctx); err != nil {
			return response{}, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		// build a fresh request each attempt
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return response{}, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		req.Header.Set("User-Agent", c.ua)

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal(c.service, endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return response{}, fmt.Errorf("%w: %v", domain.ErrTransport, ctx.Err())
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			return response{}, fmt.Errorf("%w: %v", domain.ErrTransport, lastErr)
		}
		observability.ObserveExternal(c.service, endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
			resp.Body.Close()
			if err != nil {
				return response{}, fmt.Errorf("%w: read body: %v", domain.ErrTransport, err)
			}
			return response{body: b, contentType: resp.Header.Get("Content-Type"), url: resp.Request.URL.String()}, nil

		case http.StatusNotFound, http.StatusGone:
			resp.Body.Close()
			return response{}, fmt.Errorf("%s %s: %w", c.service, endpoint, domain.ErrNotFound)

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// Prefer server-provided Retry-After; otherwise exponential backoff.
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			return response{}, fmt.Errorf("%w: %v", domain.ErrTransport, lastErr)

		default:
			// read a small error body for diagnostics
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return response{}, fmt.Errorf("%w: bad status %d: %s", domain.ErrTransport, resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return response{}, fmt.Errorf("%w: %v", domain.ErrTransport, lastErr)
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date), capped at 30s. 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(h); err == nil {
		d = time.Until(t)
	}
	if d < 0 {
		return 0
	}
	return min(d, 30*time.Second)
}

// backoff: 200ms, 400ms, 800ms... plus up to 50% jitter from crypto/rand.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
