package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/baalimago/nexusrelay/internal/wsconn"
)

// ProbeHTTP checks baseURL/api/health, healthy means a 200 with a
// status of 'healthy' when the body reports one. The outcome is recorded in t
// under service.
func ProbeHTTP(ctx context.Context, t *Table, service string, client *http.Client, baseURL string) error {
	err := probeHTTP(ctx, client, baseURL)
	t.Set(service, err == nil)
	return err
}

func probeHTTP(ctx context.Context, client *http.Client, baseURL string) error {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimSuffix(baseURL, "/") + "/api/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe '%v': %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe '%v': unexpected status: %v", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("probe '%v': read body: %w", url, err)
	}
	var health struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &health) == nil && health.Status != "" && health.Status != "healthy" {
		return fmt.Errorf("probe '%v': reported status: %v", url, health.Status)
	}
	return nil
}

// ProbeSession opens and immediately closes a session against url
func ProbeSession(ctx context.Context, t *Table, service string, d wsconn.Dialer, url string) error {
	c, err := d.Dial(ctx, url)
	if err != nil {
		t.Set(service, false)
		return err
	}
	c.Close()
	t.Set(service, true)
	return nil
}
