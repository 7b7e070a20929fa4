package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"StockScanner/internal/model"
)

const (
	DefaultFinMindURL      = "https://api.finmindtrade.com/api/v4/data"
	DefaultFinMindUsageURL = "https://api.web.finmindtrade.com/v2/user_info"
)

// FinMind dataset names.
const (
	DatasetFinancialStatements = "TaiwanStockFinancialStatements"
	DatasetBalanceSheet        = "TaiwanStockBalanceSheet"
	DatasetInstitutional       = "TaiwanStockInstitutionalInvestorsBuySell"
	DatasetMarginShortSale     = "TaiwanStockMarginPurchaseShortSale"
	DatasetShareholding        = "TaiwanStockShareholding"
	DatasetHoldingSharesPer    = "TaiwanStockHoldingSharesPer"
	DatasetSecuritiesLending   = "TaiwanStockSecuritiesLending"
	DatasetShortSaleBalances   = "TaiwanDailyShortSaleBalances"
	DatasetMonthRevenue        = "TaiwanStockMonthRevenue"
	DatasetPER                 = "TaiwanStockPER"
	DatasetMarketValue         = "TaiwanStockMarketValue"
)

// FinMind implements the quota-constrained provider over the v4 REST API.
type FinMind struct {
	BaseURL  string
	UsageURL string
	Token    string
	Client   *http.Client
}

// NewFinMind creates a client. An empty token selects the anonymous tier.
func NewFinMind(baseURL, usageURL, token, proxyURL string) *FinMind {
	if baseURL == "" {
		baseURL = DefaultFinMindURL
	}
	if usageURL == "" {
		usageURL = DefaultFinMindUsageURL
	}
	return &FinMind{
		BaseURL:  baseURL,
		UsageURL: usageURL,
		Token:    strings.TrimSpace(token),
		Client:   newHTTPClient(proxyURL),
	}
}

func (f *FinMind) Name() string { return "finmind" }

// Authenticated reports whether calls carry a token.
func (f *FinMind) Authenticated() bool { return f.Token != "" }

// Dataset fetches one dataset for one instrument from startDate onward.
// A successful answer with zero rows returns an empty, non-nil table.
func (f *FinMind) Dataset(ctx context.Context, dataset, stockID, startDate string) (*model.Table, error) {
	q := url.Values{}
	q.Set("dataset", dataset)
	q.Set("data_id", stockID)
	q.Set("start_date", startDate)

	body, err := f.get(ctx, f.BaseURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("finmind decode %s: %w", dataset, err)
	}
	var status int
	if raw, ok := envelope["status"]; ok {
		_ = json.Unmarshal(raw, &status)
	}
	if status != 0 && status != http.StatusOK {
		return nil, &HTTPError{Provider: "finmind", Status: status, Body: truncate(string(body), 200)}
	}
	raw, ok := envelope["data"]
	if !ok {
		var msg string
		_ = json.Unmarshal(envelope["msg"], &msg)
		return nil, fmt.Errorf("finmind %s: %w (msg=%q)", dataset, ErrMissingData, msg)
	}

	records, err := decodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("finmind decode %s data: %w", dataset, err)
	}
	return model.FromRecords(recordKeys(records), records), nil
}

// Usage is the caller's API consumption for the current hour.
type Usage struct {
	Used  int `json:"user_count"`
	Limit int `json:"api_request_limit"`
}

// Remaining returns the calls left, never negative.
func (u Usage) Remaining() int {
	if u.Limit <= u.Used {
		return 0
	}
	return u.Limit - u.Used
}

// Usage queries the account's hourly quota.
func (f *FinMind) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	if !f.Authenticated() {
		return u, fmt.Errorf("finmind usage: token required")
	}
	body, err := f.get(ctx, f.UsageURL)
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return u, fmt.Errorf("finmind decode usage: %w", err)
	}
	return u, nil
}

func (f *FinMind) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finmind request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("finmind read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: "finmind", Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

// decodeRecords keeps integers and decimals apart so volumes stay exact.
func decodeRecords(raw json.RawMessage) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	for _, rec := range records {
		for k, v := range rec {
			if n, ok := v.(json.Number); ok {
				rec[k] = numberValue(n)
			}
		}
	}
	return records, nil
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// recordKeys returns the union of keys, with date and stock_id leading and
// the rest sorted.
func recordKeys(records []map[string]any) []string {
	seen := map[string]bool{}
	var rest []string
	for _, rec := range records {
		for k := range rec {
			if seen[k] {
				continue
			}
			seen[k] = true
			if k != "date" && k != "stock_id" {
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	var keys []string
	for _, k := range []string{"date", "stock_id"} {
		if seen[k] {
			keys = append(keys, k)
		}
	}
	return append(keys, rest...)
}
