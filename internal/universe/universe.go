// Package universe maintains the market-wide instrument listing.
package universe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"StockScanner/internal/model"
	"StockScanner/internal/upstream"
)

// Source returns a UTF-8 listing page.
type Source interface {
	Listing(ctx context.Context, mode int) ([]byte, error)
}

// Appender persists the listing.
type Appender interface {
	Append(ctx context.Context, table string, t *model.Table) (int, error)
}

// Modes are the listing pages that make up the universe.
var Modes = []int{upstream.ModeListed, upstream.ModeOTC}

// Fetch downloads and parses every listing page.
func Fetch(ctx context.Context, src Source) ([]model.Instrument, error) {
	var all []model.Instrument
	for _, mode := range Modes {
		page, err := src.Listing(ctx, mode)
		if err != nil {
			return nil, err
		}
		list, err := Parse(page)
		if err != nil {
			return nil, fmt.Errorf("parse listing %d: %w", mode, err)
		}
		log.WithFields(log.Fields{"mode": mode, "count": len(list)}).Info("listing parsed")
		all = append(all, list...)
	}
	return all, nil
}

// Refresh downloads the listing and appends new instruments to the sink.
func Refresh(ctx context.Context, src Source, sink Appender) (fetched, added int, err error) {
	list, err := Fetch(ctx, src)
	if err != nil {
		return 0, 0, err
	}
	added, err = sink.Append(ctx, model.TableInstruments, model.InstrumentsToTable(list))
	if err != nil {
		return len(list), 0, fmt.Errorf("append instruments: %w", err)
	}
	return len(list), added, nil
}

// Parse reads the listing table. Rows with a single cell are section
// headers naming the kind of the rows below them. Data rows carry
// "code　name", ISIN, listed date, market, industry and CFI code.
func Parse(page []byte) ([]model.Instrument, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	var (
		out  []model.Instrument
		kind string
	)
	for _, row := range findAll(doc, atom.Tr) {
		cells := cellTexts(row)
		switch {
		case len(cells) == 1:
			kind = cells[0]
		case len(cells) >= 6:
			code, name, ok := splitCodeName(cells[0])
			if !ok {
				continue
			}
			inst := model.Instrument{
				Code:     code,
				Name:     name,
				Kind:     kind,
				ISIN:     cells[1],
				Market:   cells[3],
				Industry: cells[4],
				CFICode:  cells[5],
			}
			if d, err := time.Parse("2006/01/02", cells[2]); err == nil {
				inst.ListedDate = d
			}
			out = append(out, inst)
		}
	}
	return out, nil
}

// splitCodeName splits on the ideographic space the listing uses.
func splitCodeName(s string) (code, name string, ok bool) {
	code, name, ok = strings.Cut(s, "　")
	if !ok {
		return "", "", false
	}
	code, name = strings.TrimSpace(code), strings.TrimSpace(name)
	return code, name, code != ""
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func cellTexts(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, strings.TrimSpace(text(c)))
		}
	}
	return cells
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(text(c))
	}
	return b.String()
}
