package mirror

import (
	"context"

	"StockScanner/internal/model"
)

// Noop is used when no remote store is configured.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) EnsureProgressTable(context.Context) error                     { return nil }
func (Noop) LoadProgress(context.Context) ([]model.Progress, error)        { return nil, nil }
func (Noop) SaveProgress(context.Context, string, string) error            { return nil }
func (Noop) SaveProgressBatch(context.Context, string, []string) error     { return nil }
func (Noop) DistinctInstruments(context.Context, string) ([]string, error) { return nil, nil }
func (Noop) Close()                                                        {}
