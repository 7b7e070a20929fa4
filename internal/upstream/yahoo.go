package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"StockScanner/internal/model"
)

const DefaultYahooURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// Yahoo implements the unconstrained provider using the public chart API.
type Yahoo struct {
	BaseURL string
	Client  *http.Client
}

// NewYahoo creates a Yahoo Finance client.
func NewYahoo(baseURL, proxyURL string) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooURL
	}
	return &Yahoo{BaseURL: baseURL, Client: newHTTPClient(proxyURL)}
}

func (y *Yahoo) Name() string { return "yahoo" }

// yahooChart is the response structure from the chart API. Adjusted close
// lives under indicators.adjclose and is never read.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
			Events struct {
				Dividends map[string]struct {
					Amount float64 `json:"amount"`
					Date   int64   `json:"date"`
				} `json:"dividends"`
			} `json:"events"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

func (y *Yahoo) fetchChart(ctx context.Context, symbol, interval, rng string, events bool) (*yahooChart, error) {
	u := fmt.Sprintf("%s/%s?interval=%s&range=%s", y.BaseURL, url.PathEscape(symbol), interval, rng)
	if events {
		u += "&events=div"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: "yahoo", Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	return &chart, nil
}

// DailyBars downloads daily OHLCV bars over period (e.g. "3y"). Holidays
// with all-null prices are skipped. An unknown range yields no bars.
func (y *Yahoo) DailyBars(ctx context.Context, symbol, period string) ([]model.OHLCV, error) {
	chart, err := y.fetchChart(ctx, symbol, "1d", period, false)
	if err != nil {
		return nil, err
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.OHLCV, 0, len(result.Timestamp))

	for i, ts := range result.Timestamp {
		o, h, l, c := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == 0 && h == 0 && l == 0 && c == 0 {
			continue
		}
		bars = append(bars, model.OHLCV{
			Time:   time.Unix(ts, 0).In(taipei),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: at(quote.Volume, i),
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// Dividends returns the full cash dividend history of symbol. A symbol that
// never paid returns an empty slice.
func (y *Yahoo) Dividends(ctx context.Context, symbol string) ([]model.Dividend, error) {
	chart, err := y.fetchChart(ctx, symbol, "1d", "max", true)
	if err != nil {
		return nil, err
	}
	var divs []model.Dividend
	for _, r := range chart.Chart.Result {
		for _, d := range r.Events.Dividends {
			divs = append(divs, model.Dividend{Time: time.Unix(d.Date, 0).In(taipei), Amount: d.Amount})
		}
	}
	sort.Slice(divs, func(i, j int) bool { return divs[i].Time.Before(divs[j].Time) })
	return divs, nil
}

// taipei is the exchange zone; bar timestamps are the session open, so the
// calendar date must be read in local time.
var taipei = time.FixedZone("Asia/Taipei", 8*60*60)
