package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copperline-io/opswatch/internal/models"
)

// Shipper posts metric samples to the server's ingest endpoint with a
// bearer token.
type Shipper struct {
	serverURL  string
	token      string
	deviceID   string
	httpClient *http.Client
}

// NewShipper creates a shipper for one device.
func NewShipper(serverURL, token, deviceID string) *Shipper {
	return &Shipper{
		serverURL:  strings.TrimRight(serverURL, "/"),
		token:      token,
		deviceID:   deviceID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Ship sends one sample. Non-2xx responses are errors.
func (s *Shipper) Ship(ctx context.Context, metrics map[string]float64) error {
	sample := models.MetricSample{
		DeviceID:  s.deviceID,
		Timestamp: time.Now().UTC(),
		Metrics:   metrics,
	}
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.serverURL+"/api/v1/metrics", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sample: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

// Healthcheck verifies the server is reachable before the agent starts its
// collection loop.
func (s *Shipper) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server health check failed: status %d", resp.StatusCode)
	}
	return nil
}
