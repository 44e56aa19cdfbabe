package services

import (
	"fmt"
	"strconv"
	"strings"

	"supplychain-iq-api/pkg/models"
)

// BuildDocuments turns the four tables into one text chunk per item and per
// supplier: items first, then suppliers, each in input order. Entities with
// no demand or shipment rows get zero aggregates.
func BuildDocuments(items []models.InventoryItem, demand []models.DemandRecord, suppliers []models.Supplier, shipments []models.Shipment) []models.DocumentChunk {
	chunks := make([]models.DocumentChunk, 0, len(items)+len(suppliers))

	demandStats, _ := aggregateDemandByItem(demand)
	for _, it := range items {
		var totalUnits, totalShrink int
		var avgDaily float64
		if st, ok := demandStats[it.ItemID]; ok {
			totalUnits = st.totalUnits
			totalShrink = st.totalShrink
			avgDaily = float64(st.totalUnits) / float64(st.rows)
		}
		chunks = append(chunks, models.DocumentChunk{
			Text:     itemReport(it, totalUnits, avgDaily, totalShrink),
			Metadata: models.ChunkMetadata{Type: models.EntityItem, ID: it.ItemID},
		})
	}

	shipStats := aggregateShipmentsBySupplier(shipments)
	for _, sp := range suppliers {
		st := shipStats[sp.SupplierID]
		chunks = append(chunks, models.DocumentChunk{
			Text:     supplierReport(sp, st),
			Metadata: models.ChunkMetadata{Type: models.EntitySupplier, ID: sp.SupplierID},
		})
	}
	return chunks
}

func itemReport(it models.InventoryItem, totalUnits int, avgDaily float64, totalShrink int) string {
	var sb strings.Builder
	sb.WriteString("ITEM REPORT:\n")
	fmt.Fprintf(&sb, "Item ID: %d\n", it.ItemID)
	fmt.Fprintf(&sb, "Name: %s\n", it.Name)
	fmt.Fprintf(&sb, "Category: %s\n", it.Category)
	fmt.Fprintf(&sb, "Current stock: %d\n", it.Stock)
	fmt.Fprintf(&sb, "Reorder point: %d\n", it.ReorderPoint)
	fmt.Fprintf(&sb, "Unit cost: %s\n", decimal(it.UnitCost))
	fmt.Fprintf(&sb, "Selling price: %s\n", decimal(it.SellingPrice))
	fmt.Fprintf(&sb, "Total units sold: %d\n", totalUnits)
	fmt.Fprintf(&sb, "Average daily units sold: %.2f\n", avgDaily)
	fmt.Fprintf(&sb, "Total shrinkage events: %d\n", totalShrink)
	return sb.String()
}

func supplierReport(sp models.Supplier, st shipmentStats) string {
	var sb strings.Builder
	sb.WriteString("SUPPLIER REPORT:\n")
	fmt.Fprintf(&sb, "Supplier ID: %d\n", sp.SupplierID)
	fmt.Fprintf(&sb, "Name: %s\n", sp.SupplierName)
	fmt.Fprintf(&sb, "On-time rate: %s\n", decimal(sp.OnTimeRate))
	fmt.Fprintf(&sb, "Defect rate: %s\n", decimal(sp.DefectRate))
	fmt.Fprintf(&sb, "Lead time (days): %d\n", sp.LeadTimeDays)
	fmt.Fprintf(&sb, "Total shipments: %d\n", st.count)
	fmt.Fprintf(&sb, "Average shipment quantity: %.2f\n", st.avgQty())
	fmt.Fprintf(&sb, "Average transit days: %.2f\n", st.avgTransit())
	return sb.String()
}

// decimal formats a float the way the CSV tables show it: shortest form,
// with a trailing ".0" for whole numbers.
func decimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

type shipmentStats struct {
	count        int
	totalQty     int
	totalTransit int
}

func (s shipmentStats) avgQty() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(s.totalQty) / float64(s.count)
}

func (s shipmentStats) avgTransit() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(s.totalTransit) / float64(s.count)
}

func aggregateShipmentsBySupplier(shipments []models.Shipment) map[int]shipmentStats {
	out := make(map[int]shipmentStats)
	for _, sh := range shipments {
		st := out[sh.SupplierID]
		st.count++
		st.totalQty += sh.Qty
		st.totalTransit += sh.TransitDays()
		out[sh.SupplierID] = st
	}
	return out
}
