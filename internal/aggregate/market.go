package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/upstream"
)

// WindowStats is one normalized sub-window in a market payload.
type WindowStats struct {
	Window       string  `json:"window"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Sales        float64 `json:"sales"`
	NewListings  float64 `json:"new_listings"`
	MedianPrice  float64 `json:"median_price"`
	AveragePrice float64 `json:"average_price"`
	AverageDOM   float64 `json:"average_dom"`
}

// MarketPayload is the persisted market-trend snapshot document.
type MarketPayload struct {
	Area     string `json:"area"`
	AreaKind string `json:"area_kind"`
	Month    string `json:"month"`

	Current    WindowStats `json:"current"`
	PriorMonth WindowStats `json:"prior_month"`
	YearAgo    WindowStats `json:"year_ago"`

	SalesChangeMoM       float64 `json:"sales_change_mom"`
	SalesChangeYoY       float64 `json:"sales_change_yoy"`
	MedianPriceChangeMoM float64 `json:"median_price_change_mom"`
	MedianPriceChangeYoY float64 `json:"median_price_change_yoy"`

	// oldest first, one entry per trailing year
	History []WindowStats `json:"history,omitempty"`
}

const (
	winCurrent = "current"
	winPrior   = "prior_month"
	winYearAgo = "year_ago"
)

// Market aggregates the location market-trend snapshot: current month,
// prior month and same month a year back, plus per-year trailing history
// when the requested depth exceeds one.
func (a *Aggregator) Market(ctx context.Context, req model.StatsRequest, now time.Time) (json.RawMessage, error) {
	windows := []Window{
		MonthWindow(winCurrent, now, 0),
		MonthWindow(winPrior, now, 1),
		MonthWindow(winYearAgo, now, 12),
	}
	historyNames := make([]string, 0, req.Years)
	if req.Years > 1 {
		for y := 1; y <= req.Years; y++ {
			name := fmt.Sprintf("trailing_year_%d", y)
			historyNames = append(historyNames, name)
			windows = append(windows, YearWindow(name, now, y))
		}
	}

	queries := make(map[string]upstream.Query, len(windows))
	byName := make(map[string]Window, len(windows))
	for _, w := range windows {
		byName[w.Name] = w
		queries[w.Name] = upstream.Query{
			From:     w.From,
			To:       w.To,
			Area:     req.Area,
			AreaKind: req.AreaKind,
			SubArea:  req.SubArea,
		}
	}

	stats, err := a.fanOut(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", req.Area, err)
	}

	cur := windowStats(byName[winCurrent], stats[winCurrent])
	prior := windowStats(byName[winPrior], stats[winPrior])
	yearAgo := windowStats(byName[winYearAgo], stats[winYearAgo])

	p := MarketPayload{
		Area:     req.Area,
		AreaKind: string(req.AreaKind),
		Month:    now.UTC().Format(monthLayout),

		Current:    cur,
		PriorMonth: prior,
		YearAgo:    yearAgo,

		SalesChangeMoM:       pctChange(cur.Sales, prior.Sales),
		SalesChangeYoY:       pctChange(cur.Sales, yearAgo.Sales),
		MedianPriceChangeMoM: pctChange(cur.MedianPrice, prior.MedianPrice),
		MedianPriceChangeYoY: pctChange(cur.MedianPrice, yearAgo.MedianPrice),
	}

	// history runs oldest to newest
	for i := len(historyNames) - 1; i >= 0; i-- {
		name := historyNames[i]
		p.History = append(p.History, windowStats(byName[name], stats[name]))
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode market payload: %w", err)
	}
	return raw, nil
}

func windowStats(w Window, s upstream.Stats) WindowStats {
	return WindowStats{
		Window:       w.Name,
		From:         w.From.Format(dateLayout),
		To:           w.To.Format(dateLayout),
		Sales:        float64(s.Sales),
		NewListings:  float64(s.NewListings),
		MedianPrice:  s.MedianPrice,
		AveragePrice: s.AveragePrice,
		AverageDOM:   s.AverageDOM,
	}
}

const dateLayout = "2006-01-02"
