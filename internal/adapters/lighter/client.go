// Package lighter implements the exchange-facing adapters of the executor:
// the REST nonce endpoint, the nonce manager, the key signer, the websocket
// transaction transport and the account stream.
package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRESTBase = "https://mainnet.zklighter.elliot.ai"

	// Límite conservador para los endpoints públicos de cuenta.
	restRatePerSec = 8
	restBurst      = 4

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

var (
	ErrNotConnected     = errors.New("lighter: not connected")
	ErrBatchTooLarge    = errors.New("lighter: batch exceeds 50 transactions")
	ErrMissingAuthToken = errors.New("lighter: missing auth token")
	ErrNonceUnavailable = errors.New("lighter: nonce unavailable")
)

// Client es el HTTP client REST de Lighter con rate limiting y retries.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient crea un Client. Si base está vacío usa mainnet.
func NewClient(base string) *Client {
	if base == "" {
		base = defaultRESTBase
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		limiter: rate.NewLimiter(restRatePerSec, restBurst),
	}
}

type nextNonceResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Nonce   int64  `json:"nonce"`
}

// NextNonce devuelve el próximo nonce que el exchange aceptará para la API key.
func (c *Client) NextNonce(ctx context.Context, accountIndex int64, apiKey int) (int64, error) {
	q := url.Values{}
	q.Set("account_index", strconv.FormatInt(accountIndex, 10))
	q.Set("api_key_index", strconv.Itoa(apiKey))

	var resp nextNonceResponse
	if err := c.get(ctx, c.base+"/api/v1/nextNonce?"+q.Encode(), &resp); err != nil {
		return 0, fmt.Errorf("lighter.NextNonce: key %d: %w", apiKey, err)
	}
	if resp.Code != http.StatusOK {
		return 0, fmt.Errorf("lighter.NextNonce: key %d: code %d: %s", apiKey, resp.Code, resp.Message)
	}
	return resp.Nonce, nil
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("lighter: rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
