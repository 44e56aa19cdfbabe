package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"supplychain-iq-api/pkg/models"
)

func mustDate(t *testing.T, s string) models.Date {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

// seriesFrom builds a contiguous series starting at 2024-01-01.
func seriesFrom(itemID int, values ...float64) models.DemandSeries {
	start := models.NewDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := models.DemandSeries{ItemID: itemID, AsOf: start}
	for i, v := range values {
		s.Points = append(s.Points, models.DemandPoint{Date: start.AddDays(i), UnitsSold: v})
	}
	return s
}

// sampleDataset is a small hand-made dataset:
//   - item 1: 25 days of demand (Online + Store on each day)
//   - item 2: 3 days of demand with a gap
//   - item 3: in inventory, never sold
//   - suppliers 10 and 20, three shipments
func sampleDataset(t *testing.T) *models.Dataset {
	t.Helper()
	start := mustDate(t, "2024-03-01")
	ds := &models.Dataset{
		Inventory: []models.InventoryItem{
			{ItemID: 1, Name: "widget", Category: "Home", Stock: 50, ReorderPoint: 100, UnitCost: 2.5, SellingPrice: 4},
			{ItemID: 2, Name: "gadget", Category: "Electronics", Stock: 900, ReorderPoint: 200, UnitCost: 120, SellingPrice: 199.99},
			{ItemID: 3, Name: "gizmo", Category: "Grocery", Stock: 10, ReorderPoint: 5, UnitCost: 1, SellingPrice: 1.5},
		},
		Suppliers: []models.Supplier{
			{SupplierID: 10, SupplierName: "Acme Corp", OnTimeRate: 0.9, DefectRate: 0.02, LeadTimeDays: 10},
			{SupplierID: 20, SupplierName: "Globex", OnTimeRate: 0.5, DefectRate: 0.2, LeadTimeDays: 40},
		},
		Shipments: []models.Shipment{
			{ShipmentID: 1, ItemID: 1, Qty: 100, DateShipped: start, DateReceived: start.AddDays(5), SupplierID: 10},
			{ShipmentID: 2, ItemID: 2, Qty: 300, DateShipped: start, DateReceived: start.AddDays(20), SupplierID: 10},
			{ShipmentID: 3, ItemID: 1, Qty: 50, DateShipped: start.AddDays(1), DateReceived: start.AddDays(90), SupplierID: 20},
		},
	}
	for i := 0; i < 25; i++ {
		promo := 0
		if i%4 == 0 {
			promo = 1
		}
		ds.Demand = append(ds.Demand,
			models.DemandRecord{Date: start.AddDays(i), ItemID: 1, UnitsSold: 4 + i%3 + 4*promo, Channel: "Online", PromoFlag: promo},
			models.DemandRecord{Date: start.AddDays(i), ItemID: 1, UnitsSold: 2, Channel: "Store", Shrinkage: i % 10 / 9},
		)
	}
	ds.Demand = append(ds.Demand,
		models.DemandRecord{Date: start, ItemID: 2, UnitsSold: 6, Channel: "Store"},
		models.DemandRecord{Date: start.AddDays(2), ItemID: 2, UnitsSold: 3, Channel: "Online", Shrinkage: 1},
		models.DemandRecord{Date: start.AddDays(4), ItemID: 2, UnitsSold: 9, Channel: "Online", PromoFlag: 1},
	)
	return ds
}

// writeSampleDataset writes sampleDataset as CSV into a temp dir.
func writeSampleDataset(t *testing.T) (string, *models.Dataset) {
	t.Helper()
	dir := t.TempDir()
	ds := sampleDataset(t)
	require.NoError(t, WriteDatasetCSV(dir, ds))
	return dir, ds
}
