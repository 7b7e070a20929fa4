package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

const DefaultTWSEURL = "https://isin.twse.com.tw/isin/C_public.jsp"

// Listing page modes.
const (
	ModeListed = 2
	ModeOTC    = 4
)

// TWSE downloads the ISIN listing pages.
type TWSE struct {
	BaseURL string
	Client  *http.Client
}

// NewTWSE creates a listing client.
func NewTWSE(baseURL, proxyURL string) *TWSE {
	if baseURL == "" {
		baseURL = DefaultTWSEURL
	}
	return &TWSE{BaseURL: baseURL, Client: newHTTPClient(proxyURL)}
}

// Listing returns the listing page for mode, decoded from Big5 to UTF-8.
func (t *TWSE) Listing(ctx context.Context, mode int) ([]byte, error) {
	u := fmt.Sprintf("%s?strMode=%d", t.BaseURL, mode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twse listing %d: %w", mode, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twse read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: "twse", Status: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), traditionalchinese.Big5.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("twse big5 decode: %w", err)
	}
	return decoded, nil
}
