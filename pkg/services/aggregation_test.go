package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplychain-iq-api/pkg/models"
)

func TestDailyDemandSeriesZeroFillsAndSums(t *testing.T) {
	ds := sampleDataset(t)

	series := DailyDemandSeries(ds.Demand, 2)
	require.Equal(t, 5, series.Len())
	assert.Equal(t, []float64{6, 0, 3, 0, 9}, series.Values())
	assert.Equal(t, "2024-03-25", series.AsOf.String())

	item1 := DailyDemandSeries(ds.Demand, 1)
	require.Equal(t, 25, item1.Len())
	// Online (4 + promo bonus) + Store (2) on day 0
	assert.Equal(t, 10.0, item1.Points[0].UnitsSold)
	for i := 1; i < item1.Len(); i++ {
		assert.Equal(t, 1, item1.Points[i-1].Date.DaysUntil(item1.Points[i].Date))
	}
}

func TestDailyDemandSeriesUnknownItem(t *testing.T) {
	ds := sampleDataset(t)
	series := DailyDemandSeries(ds.Demand, 42)
	assert.Equal(t, 0, series.Len())
	assert.Equal(t, "2024-03-25", series.LastDate().String())
}

func TestAggregateDemandTo(t *testing.T) {
	// 2024-01-01 is a Monday
	series := seriesFrom(1, 1, 1, 1, 1, 1, 1, 1, 5, 5)

	weekly, err := AggregateDemandTo(series.Points, "weekly", "sum")
	require.NoError(t, err)
	require.Len(t, weekly, 2)
	assert.Equal(t, "2024-W01", weekly[0].Period)
	assert.Equal(t, 7.0, weekly[0].Value)
	assert.Equal(t, "2024-01-07", weekly[0].EndDate.String())
	assert.Equal(t, 10.0, weekly[1].Value)

	monthly, err := AggregateDemandTo(series.Points, "monthly", "mean")
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.InDelta(t, 17.0/9.0, monthly[0].Value, 1e-12)
	assert.Equal(t, "2024-01-31", monthly[0].EndDate.String())

	last, err := AggregateDemandTo(series.Points, "weekly", "last")
	require.NoError(t, err)
	assert.Equal(t, 5.0, last[1].Value)

	_, err = AggregateDemandTo([]models.DemandPoint{{}}, "hourly", "sum")
	assert.Error(t, err)
}
