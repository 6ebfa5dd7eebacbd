package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
)

// HTTPSource looks up token metadata from a registry HTTP API that serves
// one JSON document per mint (GET {baseURL}/{mint}).
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSource creates an HTTPSource. A nil httpClient gets a sane
// default timeout.
func NewHTTPSource(baseURL string, httpClient *http.Client, logger *slog.Logger) *HTTPSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

type registryEntry struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	LogoURI string `json:"logoURI"`
}

// Lookup fetches metadata for a mint. Unknown mints return (nil, nil);
// HTTP 429 surfaces as ErrRateLimited so the registry can apply its
// single retry.
func (s *HTTPSource) Lookup(ctx context.Context, mint solana.PublicKey) (*Metadata, error) {
	u := fmt.Sprintf("%s/%s", s.baseURL, mint.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, u)
	default:
		return nil, fmt.Errorf("metadata request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read metadata response: %w", err)
	}

	var entry registryEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("parse metadata response: %w", err)
	}

	return &Metadata{
		Symbol: entry.Symbol,
		Name:   entry.Name,
		Image:  entry.LogoURI,
	}, nil
}
