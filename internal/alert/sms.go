package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender delivers one message and returns the vendor's raw response body.
type Sender interface {
	Send(ctx context.Context, to, body string) ([]byte, error)
}

// VendorClient is the HTTP SMS gateway client.
type VendorClient struct {
	HTTP  *http.Client
	URL   string
	Token string
}

func (v *VendorClient) Send(ctx context.Context, to, body string) ([]byte, error) {
	if v == nil || v.URL == "" {
		return nil, fmt.Errorf("sms gateway not configured")
	}
	payload, _ := json.Marshal(map[string]string{
		"to":   to,
		"text": body,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.Token != "" {
		req.Header.Set("Authorization", "Bearer "+v.Token)
	}
	resp, err := v.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, fmt.Errorf("sms http %d", resp.StatusCode)
	}
	return raw, nil
}

func (v *VendorClient) httpClient() *http.Client {
	if v.HTTP != nil {
		return v.HTTP
	}
	return &http.Client{Timeout: 5 * time.Second}
}
