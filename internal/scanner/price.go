package scanner

import (
	"context"

	log "github.com/sirupsen/logrus"

	"StockScanner/internal/model"
	"StockScanner/internal/ratelimit"
)

// DefaultPeriod is the price lookback window.
const DefaultPeriod = "3y"

// Price fills daily_price from Yahoo for every common stock and ETF.
type Price struct {
	base
}

// NewPrice creates the Yahoo daily price fetcher.
func NewPrice(d Deps) *Price {
	period := d.Period
	if period == "" {
		period = DefaultPeriod
	}
	p := &Price{base: base{
		name:    "price",
		resume:  []string{model.TableDailyPrice},
		runner:  newRunner("price", d.Index, d.Sink, d.FailLimit),
		catalog: d.Catalog,
	}}
	p.datasets = []dataset{{
		table:   model.TableDailyPrice,
		label:   "daily price",
		limiter: d.YahooLimiter,
		fetch: func(ctx context.Context, target model.Target) (*model.Table, bool, error) {
			bars, ok, err := ratelimit.CallWithRetry(ctx, d.YahooLimiter, func(ctx context.Context) ([]model.OHLCV, error) {
				return d.Yahoo.DailyBars(ctx, model.YahooSymbolOf(target), period)
			})
			if err != nil || !ok {
				return nil, false, err
			}
			// Yahoo answers an empty chart for unknown or throttled symbols;
			// try again next pass rather than marking it done.
			if len(bars) == 0 {
				return nil, false, nil
			}
			return model.BarsToTable(model.StockID(target), bars), true, nil
		},
	}}
	return p
}

// Targets lists common stocks and ETFs with a known venue.
func (p *Price) Targets(ctx context.Context) ([]model.Target, error) {
	list, err := p.catalog.Instruments(ctx)
	if err != nil || len(list) == 0 {
		log.WithField("scanner", p.name).WithError(err).Warn("instrument catalog unreadable, using fallback list")
		return fallbackTargets(), nil
	}
	var out []model.Target
	for _, inst := range list {
		if inst.InPriceUniverse() && inst.YahooSymbol() != "" {
			out = append(out, inst)
		}
	}
	log.WithField("scanner", p.name).Infof("%d instruments in the price universe", len(out))
	return out, nil
}
