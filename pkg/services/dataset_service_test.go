package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDatasetRoundTripCSV(t *testing.T) {
	dir, want := writeSampleDataset(t)

	got, err := ReadDataset(dir)
	require.NoError(t, err)

	assert.Equal(t, want.Inventory, got.Inventory)
	assert.Equal(t, want.Suppliers, got.Suppliers)
	assert.Equal(t, want.Shipments, got.Shipments)
	require.Len(t, got.Demand, len(want.Demand))
	assert.Equal(t, want.Demand[0], got.Demand[0])
	assert.Equal(t, 0, got.NullCounts[TableInventory]["name"])
}

func TestReadDatasetCountsNullsAndSkipsBadRows(t *testing.T) {
	dir, _ := writeSampleDataset(t)
	inv := "item_id,name,category,stock,reorder_point,unit_cost,selling_price\n" +
		"1,widget,,50,100,2.5,4\n" +
		",orphan,Home,1,1,1,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inventory.csv"), []byte(inv), 0o644))

	ds, err := ReadDataset(dir)
	require.NoError(t, err)
	require.Len(t, ds.Inventory, 1)
	assert.Equal(t, 1, ds.NullCounts[TableInventory]["category"])
	assert.Equal(t, 1, ds.NullCounts[TableInventory]["item_id"])
}

func TestReadDatasetMissingTable(t *testing.T) {
	dir, _ := writeSampleDataset(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "supplier.csv")))

	_, err := ReadDataset(dir)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestReadDatasetMissingColumn(t *testing.T) {
	dir, _ := writeSampleDataset(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demand_history.csv"), []byte("date,item_id\n2024-01-01,1\n"), 0o644))

	_, err := ReadDataset(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "units_sold")
}

func TestReadDatasetFromXLSX(t *testing.T) {
	dir, want := writeSampleDataset(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "supplier.csv")))

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Supplier_ID", "supplier_name", "on_time_rate", "defect_rate", "lead_time_days"},
		{10, "Acme Corp", 0.9, 0.02, 10},
		{20, "Globex", 0.5, 0.2, 40},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	require.NoError(t, f.SaveAs(filepath.Join(dir, "supplier.xlsx")))
	require.NoError(t, f.Close())

	ds, err := ReadDataset(dir)
	require.NoError(t, err)
	assert.Equal(t, want.Suppliers, ds.Suppliers)
}

func TestExportDatasetXLSX(t *testing.T) {
	_, ds := writeSampleDataset(t)
	path := filepath.Join(t.TempDir(), "export.xlsx")

	require.NoError(t, ExportDatasetXLSX(path, ds))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, TableNames(), f.GetSheetList())

	rows, err := f.GetRows(TableShipments)
	require.NoError(t, err)
	assert.Len(t, rows, len(ds.Shipments)+1)
	assert.Equal(t, "date_shipped", rows[0][3])
}

func TestDatasetServiceCacheAndInvalidate(t *testing.T) {
	dir, _ := writeSampleDataset(t)
	svc := NewDatasetService(dir, nil)

	first, err := svc.Load()
	require.NoError(t, err)
	second, err := svc.Load()
	require.NoError(t, err)
	assert.Same(t, first, second)

	svc.Invalidate()
	third, err := svc.Load()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestDatasetServiceSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	svc := NewDatasetService(dir, nil)
	ds := sampleDataset(t)

	require.NoError(t, svc.Save(ds))

	loaded, err := svc.Load()
	require.NoError(t, err)
	assert.Same(t, ds, loaded)

	for _, name := range TableNames() {
		assert.FileExists(t, filepath.Join(dir, name+".csv"))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
