package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/upstream"
)

// PropertyTypeRow is one per-type row in the breakdown payload.
type PropertyTypeRow struct {
	Label       string  `json:"label"`
	Sales       float64 `json:"sales"`
	MedianPrice float64 `json:"median_price"`
	SalesChange float64 `json:"sales_change"` // pct vs prior month
	Share       float64 `json:"share"`        // pct of total sales
}

// PropTypesPayload is the persisted property-type breakdown document.
type PropTypesPayload struct {
	Month      string            `json:"month"`
	TotalSales float64           `json:"total_sales"`
	Types      []PropertyTypeRow `json:"types"`
}

// PropertyTypes aggregates the per-property-type breakdown for the scope
// month against the prior month.
func (a *Aggregator) PropertyTypes(ctx context.Context, req model.StatsRequest, now time.Time) (json.RawMessage, error) {
	ref := now
	if req.Month != "" {
		t, err := ParseMonth(req.Month)
		if err != nil {
			return nil, err
		}
		ref = t
	}

	curWin := MonthWindow(winCurrent, ref, 0)
	priorWin := MonthWindow(winPrior, ref, 1)

	queries := map[string]upstream.Query{
		winCurrent: {From: curWin.From, To: curWin.To, Category: req.Category, GroupBy: "property_type"},
		winPrior:   {From: priorWin.From, To: priorWin.To, Category: req.Category, GroupBy: "property_type"},
	}

	stats, err := a.fanOut(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("property types %s: %w", curWin.From.Format(monthLayout), err)
	}

	// prior buckets by label; a type absent last month baselines to zero
	prior := make(map[string]upstream.Bucket, len(stats[winPrior].Buckets))
	for _, b := range stats[winPrior].Buckets {
		prior[b.Label] = b
	}

	curBuckets := stats[winCurrent].Buckets

	var total float64
	for _, b := range curBuckets {
		if s := float64(b.Sales); s > 0 {
			total += s
		}
	}

	rows := make([]PropertyTypeRow, 0, len(curBuckets))
	for _, b := range curBuckets {
		sales := float64(b.Sales)
		if sales <= 0 {
			continue
		}
		rows = append(rows, PropertyTypeRow{
			Label:       b.Label,
			Sales:       sales,
			MedianPrice: b.MedianPrice,
			SalesChange: pctChange(sales, float64(prior[b.Label].Sales)),
			Share:       pctShare(sales, total),
		})
	}

	// ties keep upstream order
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Sales > rows[j].Sales })

	p := PropTypesPayload{
		Month:      curWin.From.Format(monthLayout),
		TotalSales: total,
		Types:      rows,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode property-types payload: %w", err)
	}
	return raw, nil
}

func pctShare(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}
