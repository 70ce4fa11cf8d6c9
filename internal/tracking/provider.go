package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
)

// ScrapeRequest is one job submission to the scrape provider.
type ScrapeRequest struct {
	TaskName  string `json:"task_name"`
	CustomID  string `json:"custom_id"`
	TargetURL string `json:"target_url"`
}

// Provider submits scrape jobs to the external scraping service. Submit
// returns the provider-assigned job id, which may be empty when the provider
// acknowledges without one.
type Provider interface {
	Submit(ctx context.Context, req ScrapeRequest) (string, error)
}

// HTTPProvider submits jobs over the provider's JSON API.
type HTTPProvider struct {
	baseURL string
	token   string
	client  *http.Client
	log     logger.Logger
}

func NewHTTPProvider(cfg config.TrackingConfig, log logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.ProviderURL,
		token:   cfg.ProviderToken,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (p *HTTPProvider) Submit(ctx context.Context, req ScrapeRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal scrape request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build scrape request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit scrape job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("submit scrape job: provider returned %d: %s", resp.StatusCode, data)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	return out.JobID, nil
}
