package services

import (
	"fmt"
	"sort"
	"strings"

	"supplychain-iq-api/pkg/models"
)

// AggregatedPoint represents a weekly/monthly aggregated value over a period.
type AggregatedPoint struct {
	Period    string      `json:"period"`     // e.g., 2024-W12 or 2024-03
	StartDate models.Date `json:"start_date"` // inclusive
	EndDate   models.Date `json:"end_date"`   // inclusive
	Value     float64     `json:"value"`
}

// DailyDemandSeries builds the contiguous daily units_sold series for one item.
// Same-day rows (e.g. Online and Store) are summed and missing days are zero-filled.
// AsOf is set to the last demand date of the whole dataset.
func DailyDemandSeries(demand []models.DemandRecord, itemID int) models.DemandSeries {
	series := models.DemandSeries{ItemID: itemID}

	perDay := make(map[models.Date]float64)
	var first, last models.Date
	for _, d := range demand {
		if series.AsOf.IsZero() || d.Date.After(series.AsOf.Time) {
			series.AsOf = d.Date
		}
		if d.ItemID != itemID {
			continue
		}
		if len(perDay) == 0 || d.Date.Before(first.Time) {
			first = d.Date
		}
		if len(perDay) == 0 || d.Date.After(last.Time) {
			last = d.Date
		}
		perDay[d.Date] += float64(d.UnitsSold)
	}
	if len(perDay) == 0 {
		return series
	}

	n := first.DaysUntil(last) + 1
	series.Points = make([]models.DemandPoint, 0, n)
	for cur := first; !cur.After(last.Time); cur = cur.AddDays(1) {
		series.Points = append(series.Points, models.DemandPoint{Date: cur, UnitsSold: perDay[cur]})
	}
	return series
}

// itemDemandStats is the per-item aggregate over raw demand rows.
type itemDemandStats struct {
	rows        int
	totalUnits  int
	totalShrink int

	promoUnits    int
	promoRows     int
	nonPromoUnits int
	nonPromoRows  int

	// distinct dates with at least one row
	days map[models.Date]struct{}
}

// aggregateDemandByItem groups raw demand rows per item, preserving first-seen order.
func aggregateDemandByItem(demand []models.DemandRecord) (map[int]*itemDemandStats, []int) {
	stats := make(map[int]*itemDemandStats)
	order := make([]int, 0)
	for _, d := range demand {
		st, ok := stats[d.ItemID]
		if !ok {
			st = &itemDemandStats{days: make(map[models.Date]struct{})}
			stats[d.ItemID] = st
			order = append(order, d.ItemID)
		}
		st.rows++
		st.totalUnits += d.UnitsSold
		st.totalShrink += d.Shrinkage
		st.days[d.Date] = struct{}{}
		if d.PromoFlag == 1 {
			st.promoUnits += d.UnitsSold
			st.promoRows++
		} else {
			st.nonPromoUnits += d.UnitsSold
			st.nonPromoRows++
		}
	}
	return stats, order
}

// AggregateDemandTo aggregates a daily demand series to the specified granularity.
// granularity: "weekly"|"monthly"; method: "sum"|"mean"|"last"
func AggregateDemandTo(daily []models.DemandPoint, granularity, method string) ([]AggregatedPoint, error) {
	type bucket struct {
		start, end models.Date
		values     []float64
	}
	groups := make(map[string]*bucket)
	order := make([]string, 0)

	for _, p := range daily {
		var key string
		var start, end models.Date
		switch granularity {
		case "weekly":
			// ISO week, Monday-Sunday
			weekday := int(p.Date.Weekday())
			if weekday == 0 {
				weekday = 7
			}
			start = p.Date.AddDays(-(weekday - 1))
			end = start.AddDays(6)
			y, w := start.ISOWeek()
			key = fmt.Sprintf("%04d-W%02d", y, w)
		case "monthly":
			start = models.NewDate(p.Date.AddDate(0, 0, -(p.Date.Day() - 1)))
			end = models.NewDate(start.AddDate(0, 1, -1))
			key = start.Format("2006-01")
		default:
			return nil, fmt.Errorf("unsupported granularity: %q", granularity)
		}

		b, ok := groups[key]
		if !ok {
			b = &bucket{start: start, end: end}
			groups[key] = b
			order = append(order, key)
		}
		b.values = append(b.values, p.UnitsSold)
	}

	sort.Strings(order)
	out := make([]AggregatedPoint, 0, len(order))
	for _, key := range order {
		b := groups[key]
		var val float64
		switch strings.ToLower(method) {
		case "mean", "avg":
			for _, x := range b.values {
				val += x
			}
			val /= float64(len(b.values))
		case "last":
			// daily input is ascending, so the last appended value is the latest
			val = b.values[len(b.values)-1]
		default: // sum
			for _, x := range b.values {
				val += x
			}
		}
		out = append(out, AggregatedPoint{Period: key, StartDate: b.start, EndDate: b.end, Value: val})
	}
	return out, nil
}
