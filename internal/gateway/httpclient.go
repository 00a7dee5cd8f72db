package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/malipo/orchestrator/internal/domain"
)

// postJSON sends a JSON body and decodes a JSON response, translating
// transport and status failures into the error taxonomy: network errors
// and provider 5xx become ErrTransientGateway, 401/403 becomes
// ErrInvalidCredentials.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return doRequest(ctx, client, http.MethodPost, endpoint, headers, "application/json", bytes.NewReader(payload), out)
}

// postForm sends a URL-encoded form body (the card processor's API takes
// form-encoded requests).
func postForm(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, form url.Values, out any) error {
	return doRequest(ctx, client, http.MethodPost, endpoint, headers,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), out)
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, out any) error {
	return doRequest(ctx, client, http.MethodGet, endpoint, headers, "", nil, out)
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientGateway, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrTransientGateway, err)
	}

	if resp.StatusCode >= 400 {
		return &providerError{status: resp.StatusCode, body: data}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// providerError is a non-2xx response with the provider's body attached,
// so adapters can inspect provider error codes (the poll path needs this
// to tell "still processing" from "not found"). It unwraps to the error
// taxonomy so errors.Is keeps working at the edges.
type providerError struct {
	status int
	body   []byte
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider rejected request: status %d: %s", e.status, snippet(e.body))
}

func (e *providerError) Unwrap() error {
	switch {
	case e.status == http.StatusUnauthorized || e.status == http.StatusForbidden:
		return domain.ErrInvalidCredentials
	case e.status >= 500:
		return domain.ErrTransientGateway
	}
	return nil
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
