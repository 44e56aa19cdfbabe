package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/models"
)

// テーブルのファイル名（拡張子なし）
const (
	TableInventory = "inventory"
	TableDemand    = "demand_history"
	TableSuppliers = "supplier"
	TableShipments = "shipments"
)

// 各テーブルの列（書き出し時の順序）
var tableColumns = map[string][]string{
	TableInventory: {"item_id", "name", "category", "stock", "reorder_point", "unit_cost", "selling_price"},
	TableDemand:    {"date", "item_id", "units_sold", "channel", "promo_flag", "shrinkage"},
	TableSuppliers: {"supplier_id", "supplier_name", "on_time_rate", "defect_rate", "lead_time_days"},
	TableShipments: {"shipment_id", "item_id", "qty", "date_shipped", "date_received", "supplier_id"},
}

// TableNames は読み込むテーブル名を固定順で返す
func TableNames() []string {
	return []string{TableInventory, TableDemand, TableSuppliers, TableShipments}
}

// DatasetService はデータディレクトリから4テーブルを読み込み、キャッシュする。
// CSV と XLSX（先頭シート）の両方に対応する。
type DatasetService struct {
	mu      sync.RWMutex
	dataDir string
	cache   *models.Dataset
	logger  *zap.Logger
}

// NewDatasetService creates a new DatasetService.
func NewDatasetService(dataDir string, logger *zap.Logger) *DatasetService {
	return &DatasetService{
		dataDir: dataDir,
		logger:  logging.OrNop(logger),
	}
}

// DataDir はデータディレクトリのパスを返す
func (s *DatasetService) DataDir() string {
	return s.dataDir
}

// Load はキャッシュ済みのデータセットを返す。未読み込みならファイルから読む。
// 返り値は共有スナップショットなので呼び出し側は変更しないこと。
func (s *DatasetService) Load() (*models.Dataset, error) {
	s.mu.RLock()
	if s.cache != nil {
		ds := s.cache
		s.mu.RUnlock()
		return ds, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil { // double-check
		return s.cache, nil
	}

	ds, err := ReadDataset(s.dataDir)
	if err != nil {
		return nil, err
	}
	s.cache = ds
	s.logger.Info("dataset loaded",
		zap.String("dir", s.dataDir),
		zap.Int("inventory", len(ds.Inventory)),
		zap.Int("demand", len(ds.Demand)),
		zap.Int("suppliers", len(ds.Suppliers)),
		zap.Int("shipments", len(ds.Shipments)),
	)
	return ds, nil
}

// Invalidate はキャッシュを破棄し、次回の Load で読み直させる
func (s *DatasetService) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// Save はデータセットをCSVとして書き出し、キャッシュを差し替える
func (s *DatasetService) Save(ds *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := WriteDatasetCSV(s.dataDir, ds); err != nil {
		return err
	}
	if ds.LoadedAt.IsZero() {
		ds.LoadedAt = time.Now()
	}
	s.cache = ds
	return nil
}

// ReadDataset はディレクトリから4テーブルを読み込む
func ReadDataset(dir string) (*models.Dataset, error) {
	ds := &models.Dataset{
		LoadedAt:   time.Now(),
		NullCounts: make(map[string]map[string]int),
	}

	for _, name := range TableNames() {
		tbl, err := readTable(dir, name)
		if err != nil {
			return nil, err
		}
		ds.NullCounts[name] = tbl.nulls

		switch name {
		case TableInventory:
			ds.Inventory, err = parseInventory(tbl)
		case TableDemand:
			ds.Demand, err = parseDemand(tbl)
		case TableSuppliers:
			ds.Suppliers, err = parseSuppliers(tbl)
		case TableShipments:
			ds.Shipments, err = parseShipments(tbl)
		}
		if err != nil {
			return nil, fmt.Errorf("%s の解析に失敗: %w", name, err)
		}
	}
	return ds, nil
}

// rawTable はヘッダー付きの文字列表
type rawTable struct {
	name   string
	header map[string]int
	rows   [][]string
	nulls  map[string]int
}

func (t *rawTable) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := t.header[c]; !ok {
			return fmt.Errorf("列 %q が見つかりません", c)
		}
	}
	return nil
}

func (t *rawTable) cell(row []string, col string) string {
	idx, ok := t.header[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (t *rawTable) float(row []string, col string) float64 {
	v, err := strconv.ParseFloat(t.cell(row, col), 64)
	if err != nil {
		return 0
	}
	return v
}

func (t *rawTable) integer(row []string, col string) int {
	return int(t.float(row, col))
}

// tablePath はCSVを優先し、なければXLSXを探す
func tablePath(dir, name string) (string, error) {
	for _, ext := range []string{".csv", ".xlsx"} {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s (%s)", ErrDatasetNotFound, name, dir)
}

func readTable(dir, name string) (*rawTable, error) {
	path, err := tablePath(dir, name)
	if err != nil {
		return nil, err
	}

	rows, err := readRows(path)
	if err != nil {
		return nil, fmt.Errorf("%s の読み込みに失敗: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: ヘッダー行がありません", path)
	}

	header := normalizeHeader(rows[0])
	tbl := &rawTable{
		name:   name,
		header: make(map[string]int, len(header)),
		rows:   rows[1:],
		nulls:  make(map[string]int, len(header)),
	}
	for i, h := range header {
		tbl.header[h] = i
		tbl.nulls[h] = 0
	}
	for _, row := range tbl.rows {
		for i, h := range header {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				tbl.nulls[h]++
			}
		}
	}
	return tbl, nil
}

func readRows(path string) ([][]string, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return f.GetRows(f.GetSheetName(0))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func normalizeHeader(hdr []string) []string {
	out := make([]string, len(hdr))
	for i, v := range hdr {
		v = strings.TrimPrefix(v, "\ufeff")
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func parseInventory(t *rawTable) ([]models.InventoryItem, error) {
	if err := t.require("item_id", "stock", "reorder_point"); err != nil {
		return nil, err
	}
	out := make([]models.InventoryItem, 0, len(t.rows))
	for _, row := range t.rows {
		if t.cell(row, "item_id") == "" {
			continue
		}
		out = append(out, models.InventoryItem{
			ItemID:       t.integer(row, "item_id"),
			Name:         t.cell(row, "name"),
			Category:     t.cell(row, "category"),
			Stock:        t.integer(row, "stock"),
			ReorderPoint: t.integer(row, "reorder_point"),
			UnitCost:     t.float(row, "unit_cost"),
			SellingPrice: t.float(row, "selling_price"),
		})
	}
	return out, nil
}

func parseDemand(t *rawTable) ([]models.DemandRecord, error) {
	if err := t.require("date", "item_id", "units_sold"); err != nil {
		return nil, err
	}
	out := make([]models.DemandRecord, 0, len(t.rows))
	for _, row := range t.rows {
		d, err := models.ParseDate(t.cell(row, "date"))
		if err != nil || t.cell(row, "item_id") == "" {
			continue
		}
		out = append(out, models.DemandRecord{
			Date:      d,
			ItemID:    t.integer(row, "item_id"),
			UnitsSold: t.integer(row, "units_sold"),
			Channel:   t.cell(row, "channel"),
			PromoFlag: t.integer(row, "promo_flag"),
			Shrinkage: t.integer(row, "shrinkage"),
		})
	}
	return out, nil
}

func parseSuppliers(t *rawTable) ([]models.Supplier, error) {
	if err := t.require("supplier_id"); err != nil {
		return nil, err
	}
	out := make([]models.Supplier, 0, len(t.rows))
	for _, row := range t.rows {
		if t.cell(row, "supplier_id") == "" {
			continue
		}
		out = append(out, models.Supplier{
			SupplierID:   t.integer(row, "supplier_id"),
			SupplierName: t.cell(row, "supplier_name"),
			OnTimeRate:   t.float(row, "on_time_rate"),
			DefectRate:   t.float(row, "defect_rate"),
			LeadTimeDays: t.integer(row, "lead_time_days"),
		})
	}
	return out, nil
}

func parseShipments(t *rawTable) ([]models.Shipment, error) {
	if err := t.require("shipment_id", "date_shipped", "date_received"); err != nil {
		return nil, err
	}
	out := make([]models.Shipment, 0, len(t.rows))
	for _, row := range t.rows {
		shipped, err1 := models.ParseDate(t.cell(row, "date_shipped"))
		received, err2 := models.ParseDate(t.cell(row, "date_received"))
		if err := errors.Join(err1, err2); err != nil {
			continue
		}
		out = append(out, models.Shipment{
			ShipmentID:   t.integer(row, "shipment_id"),
			ItemID:       t.integer(row, "item_id"),
			Qty:          t.integer(row, "qty"),
			DateShipped:  shipped,
			DateReceived: received,
			SupplierID:   t.integer(row, "supplier_id"),
		})
	}
	return out, nil
}

// tableRows はテーブルを書き出し用の文字列行に変換する（ヘッダーなし）
func tableRows(ds *models.Dataset, name string) [][]string {
	var rows [][]string
	switch name {
	case TableInventory:
		for _, it := range ds.Inventory {
			rows = append(rows, []string{
				strconv.Itoa(it.ItemID), it.Name, it.Category, strconv.Itoa(it.Stock),
				strconv.Itoa(it.ReorderPoint), formatFloat(it.UnitCost), formatFloat(it.SellingPrice),
			})
		}
	case TableDemand:
		for _, d := range ds.Demand {
			rows = append(rows, []string{
				d.Date.String(), strconv.Itoa(d.ItemID), strconv.Itoa(d.UnitsSold), d.Channel,
				strconv.Itoa(d.PromoFlag), strconv.Itoa(d.Shrinkage),
			})
		}
	case TableSuppliers:
		for _, sp := range ds.Suppliers {
			rows = append(rows, []string{
				strconv.Itoa(sp.SupplierID), sp.SupplierName, formatFloat(sp.OnTimeRate),
				formatFloat(sp.DefectRate), strconv.Itoa(sp.LeadTimeDays),
			})
		}
	case TableShipments:
		for _, sh := range ds.Shipments {
			rows = append(rows, []string{
				strconv.Itoa(sh.ShipmentID), strconv.Itoa(sh.ItemID), strconv.Itoa(sh.Qty),
				sh.DateShipped.String(), sh.DateReceived.String(), strconv.Itoa(sh.SupplierID),
			})
		}
	}
	return rows
}

// WriteDatasetCSV は4テーブルをCSVで書き出す。
// 一時ファイルに書いてからリネームするので、読み手が書きかけのファイルを見ることはない。
func WriteDatasetCSV(dir string, ds *models.Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("データディレクトリの作成に失敗: %w", err)
	}

	for _, name := range TableNames() {
		final := filepath.Join(dir, name+".csv")
		tmp, err := os.CreateTemp(dir, "."+name+"-*.csv.tmp")
		if err != nil {
			return fmt.Errorf("一時ファイルの作成に失敗: %w", err)
		}

		w := csv.NewWriter(tmp)
		_ = w.Write(tableColumns[name])
		_ = w.WriteAll(tableRows(ds, name))
		w.Flush()
		werr := w.Error()
		cerr := tmp.Close()
		if err := errors.Join(werr, cerr); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("%s の書き込みに失敗: %w", name, err)
		}
		if err := os.Rename(tmp.Name(), final); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("%s の配置に失敗: %w", name, err)
		}
	}
	return nil
}

// ExportDatasetXLSX は4テーブルを1つのブック（テーブルごとにシート）に書き出す
func ExportDatasetXLSX(path string, ds *models.Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range TableNames() {
		sheet := name
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("シート名の設定に失敗: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("シートの作成に失敗: %w", err)
		}

		header := tableColumns[name]
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return fmt.Errorf("ヘッダーの書き込みに失敗: %w", err)
		}
		for r, row := range tableRows(ds, name) {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			values := make([]interface{}, len(row))
			for j, v := range row {
				values[j] = v
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return fmt.Errorf("%s 行 %d の書き込みに失敗: %w", name, r+2, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("XLSXの保存に失敗: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
