package universe

import (
	"context"
	"testing"

	"StockScanner/internal/model"
	"StockScanner/internal/upstream"
)

const listedPage = `<html><body>
<table class="h4">
<tr><td>有價證券代號及名稱</td><td>國際證券辨識號碼(ISIN Code)</td><td>上市日</td><td>市場別</td><td>產業別</td><td>CFICode</td><td>備註</td></tr>
<tr><td colspan="7"><b> 股票 </b></td></tr>
<tr><td>2330　台積電</td><td>TW0002330008</td><td>1994/09/05</td><td>上市</td><td>半導體業</td><td>ESVUFR</td><td></td></tr>
<tr><td>2317　鴻海</td><td>TW0002317005</td><td>1991/06/18</td><td>上市</td><td>其他電子業</td><td>ESVUFR</td><td></td></tr>
<tr><td colspan="7"><b> ETF </b></td></tr>
<tr><td>0050　元大台灣50</td><td>TW0000050004</td><td>2003/06/30</td><td>上市</td><td></td><td>CEOGEU</td><td></td></tr>
</table></body></html>`

const otcPage = `<table>
<tr><td colspan="7">股票</td></tr>
<tr><td>6488　環球晶</td><td>TW0006488000</td><td>2015/09/25</td><td>上櫃</td><td>半導體業</td><td>ESVUFR</td><td></td></tr>
</table>`

func TestParse(t *testing.T) {
	list, err := Parse([]byte(listedPage))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("instruments: got %d, want 3: %+v", len(list), list)
	}
	tsmc := list[0]
	if tsmc.Code != "2330" || tsmc.Name != "台積電" || tsmc.Kind != model.KindStock ||
		tsmc.CFICode != model.CFICommonStock || tsmc.ISIN != "TW0002330008" || tsmc.Industry != "半導體業" {
		t.Errorf("2330: %+v", tsmc)
	}
	if tsmc.ListedDate.Year() != 1994 || tsmc.YahooSymbol() != "2330.TW" {
		t.Errorf("2330 date/symbol: %v %s", tsmc.ListedDate, tsmc.YahooSymbol())
	}
	etf := list[2]
	if etf.Kind != model.KindETF || !etf.InPriceUniverse() {
		t.Errorf("0050: %+v", etf)
	}
}

type fakeSource map[int]string

func (f fakeSource) Listing(_ context.Context, mode int) ([]byte, error) { return []byte(f[mode]), nil }

type captureSink struct {
	table string
	rows  int
}

func (c *captureSink) Append(_ context.Context, table string, t *model.Table) (int, error) {
	c.table, c.rows = table, t.Len()
	return t.Len(), nil
}

func TestRefresh(t *testing.T) {
	src := fakeSource{upstream.ModeListed: listedPage, upstream.ModeOTC: otcPage}
	sink := &captureSink{}

	fetched, added, err := Refresh(context.Background(), src, sink)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if fetched != 4 || added != 4 || sink.table != model.TableInstruments {
		t.Errorf("fetched=%d added=%d table=%s", fetched, added, sink.table)
	}
}
