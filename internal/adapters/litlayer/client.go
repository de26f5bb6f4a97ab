// Package litlayer es el adapter REST del venue LitLayer: order entry,
// ticker de mercado, sesión de agente y registro del endpoint del maker.
package litlayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/jitmaker/internal/domain"
)

const (
	defaultBaseURL = "https://api.litlayer.com"

	defaultRatePerSec = 20
	defaultBurst      = 10

	maxRetries    = 3
	baseRetryWait = 200 * time.Millisecond
)

// Config configura el client.
type Config struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration // timeout del http.Client; los callers suelen pasar uno menor por ctx
}

// APIError es una respuesta 4xx del venue.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("litlayer: status %d: %s", e.Status, e.Message)
}

// Client es el HTTP client de LitLayer con rate limiting y retries.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	session *Session
}

// NewClient crea un Client. Si BaseURL está vacío usa producción.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

// WithSession adjunta la firma de sesión a cada request firmada.
func (c *Client) WithSession(s *Session) *Client {
	c.session = s
	return c
}

// get hace un GET idempotente con retries.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, true)
}

// post hace un POST JSON firmado. retry solo debe ser true para operaciones
// idempotentes: un create reintentado puede duplicar la orden.
func (c *Client) post(ctx context.Context, path string, body, out any, retry bool) error {
	return c.do(ctx, http.MethodPost, path, body, out, retry)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, retry bool) error {
	var payload []byte
	if body != nil {
		b, err := c.sign(body)
		if err != nil {
			return err
		}
		payload = b
	}

	attempts := 1
	if retry {
		attempts = maxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, attempt-1)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return classify(fmt.Errorf("rate limiter: %w", err))
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("litlayer: new request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = classify(err)
			if !retry && !errors.Is(lastErr, domain.ErrVenueTimeout) {
				// Sin retry no sabemos si la request llegó al venue.
				lastErr = fmt.Errorf("litlayer: %w: %w", domain.ErrVenueTimeout, err)
			}
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("litlayer: rate limited by API", "path", path, "attempt", attempt+1)
			lastErr = &APIError{Status: resp.StatusCode, Message: "rate limited"}
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("litlayer: %s %s: server status %d", method, path, resp.StatusCode)
			if !retry {
				lastErr = fmt.Errorf("%w: %w", domain.ErrVenueTimeout, lastErr)
			}
			continue
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("litlayer: decode %s response: %w", path, err)
		}
		return nil
	}
	if retry {
		return fmt.Errorf("litlayer: %s %s failed after %d retries: %w", method, path, maxRetries, lastErr)
	}
	return lastErr
}

// sign serializa body añadiendo la firma de sesión si hay una.
func (c *Client) sign(body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("litlayer: marshal body: %w", err)
	}
	if c.session == nil {
		return b, nil
	}

	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("litlayer: sign body: %w", err)
	}
	fields["signature"] = c.session.Signature()
	return json.Marshal(fields)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// classify marca como ErrVenueTimeout los errores que dejan el resultado de
// la llamada sin conocer.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("litlayer: %w: %w", domain.ErrVenueTimeout, err)
	}
	return fmt.Errorf("litlayer: %w", err)
}

func errorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(body))
}
