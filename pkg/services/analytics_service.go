package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/models"
)

// 在庫日数の計算で需要履歴がない品目に使う1日あたり需要
const missingDailyDemand = 0.1

// AnalyticsService はデータセットから在庫・需要・サプライヤーの指標を計算する
type AnalyticsService struct {
	datasets *DatasetService
	anomaly  *AnomalyDetector
	logger   *zap.Logger
}

// NewAnalyticsService creates a new AnalyticsService. nil detector uses the defaults.
func NewAnalyticsService(datasets *DatasetService, detector *AnomalyDetector, logger *zap.Logger) *AnalyticsService {
	if detector == nil {
		detector = NewAnomalyDetector(DefaultContamination)
	}
	return &AnalyticsService{
		datasets: datasets,
		anomaly:  detector,
		logger:   logging.OrNop(logger),
	}
}

func (s *AnalyticsService) load() (*models.Dataset, error) {
	ds, err := s.datasets.Load()
	if err != nil {
		return nil, fmt.Errorf("データセットの読み込みに失敗: %w", err)
	}
	return ds, nil
}

// Summary はテーブルの行列数・列ごとの統計・欠損数を返す
func (s *AnalyticsService) Summary(table string) (*models.TableSummary, error) {
	columns, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	rows := tableRows(ds, table)

	summary := &models.TableSummary{
		Shape:      []int{len(rows), len(columns)},
		Summary:    make(map[string]map[string]interface{}, len(columns)),
		NullCounts: make(map[string]int, len(columns)),
	}
	for j, col := range columns {
		values := make([]string, len(rows))
		for i, row := range rows {
			values[i] = row[j]
		}
		summary.Summary[col] = describeColumn(values)
		summary.NullCounts[col] = ds.NullCounts[table][col]
	}
	return summary, nil
}

// describeColumn 数値列は count/mean/std/min/25%/50%/75%/max、それ以外は count/unique/top/freq
func describeColumn(values []string) map[string]interface{} {
	nums := make([]float64, 0, len(values))
	numeric := true
	for _, v := range values {
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			numeric = false
			break
		}
		nums = append(nums, f)
	}

	if numeric && len(nums) > 0 {
		sort.Float64s(nums)
		out := map[string]interface{}{
			"count": len(nums),
			"mean":  stat.Mean(nums, nil),
			"min":   nums[0],
			"25%":   linearQuantile(nums, 0.25),
			"50%":   linearQuantile(nums, 0.5),
			"75%":   linearQuantile(nums, 0.75),
			"max":   nums[len(nums)-1],
		}
		if len(nums) > 1 {
			out["std"] = stat.StdDev(nums, nil)
		}
		return out
	}

	counts := make(map[string]int)
	var order []string
	count := 0
	for _, v := range values {
		if v == "" {
			continue
		}
		count++
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	out := map[string]interface{}{"count": count, "unique": len(counts)}
	// the first value to reach the highest count wins
	var top string
	freq := 0
	for _, v := range order {
		if counts[v] > freq {
			top, freq = v, counts[v]
		}
	}
	if freq > 0 {
		out["top"] = top
		out["freq"] = freq
	}
	return out
}

// linearQuantile は昇順の値に対し (n-1)p の位置で線形補間する
func linearQuantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// StockoutRisk は在庫日数の昇順（危険な順）に返す
func (s *AnalyticsService) StockoutRisk(topN int) ([]models.StockoutRisk, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	stats, _ := aggregateDemandByItem(ds.Demand)

	out := make([]models.StockoutRisk, 0, len(ds.Inventory))
	for _, it := range ds.Inventory {
		avg := missingDailyDemand
		if st, ok := stats[it.ItemID]; ok && st.avgDailyUnits() > 0 {
			avg = st.avgDailyUnits()
		}
		out = append(out, models.StockoutRisk{
			ItemID:         it.ItemID,
			Name:           it.Name,
			Category:       it.Category,
			Stock:          it.Stock,
			ReorderPoint:   it.ReorderPoint,
			AvgDailyDemand: avg,
			DaysOfSupply:   daysOfSupply(it.Stock, avg),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysOfSupply < out[j].DaysOfSupply })
	return head(out, topN), nil
}

// daysOfSupply avg は常に正（需要0の品目も missingDailyDemand で置き換える）
func daysOfSupply(stock int, avg float64) float64 {
	return float64(stock) / avg
}

// avgDailyUnits は日ごとの合計販売数の平均
func (st *itemDemandStats) avgDailyUnits() float64 {
	if len(st.days) == 0 {
		return 0
	}
	return float64(st.totalUnits) / float64(len(st.days))
}

// ExcessInventory は発注点を超えた在庫の多い順に返す
func (s *AnalyticsService) ExcessInventory(topN int) ([]models.ExcessInventory, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	stats, _ := aggregateDemandByItem(ds.Demand)

	out := make([]models.ExcessInventory, 0)
	for _, it := range ds.Inventory {
		excess := it.Stock - it.ReorderPoint
		if excess <= 0 {
			continue
		}
		var avg float64
		if st, ok := stats[it.ItemID]; ok {
			avg = st.avgDailyUnits()
		}
		out = append(out, models.ExcessInventory{
			ItemID:         it.ItemID,
			Name:           it.Name,
			Category:       it.Category,
			Stock:          it.Stock,
			ReorderPoint:   it.ReorderPoint,
			AvgDailyDemand: avg,
			ExcessUnits:    excess,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExcessUnits > out[j].ExcessUnits })
	return head(out, topN), nil
}

// Shrinkage は品目別のロス合計の多い順に返す
func (s *AnalyticsService) Shrinkage(topN int) ([]models.ShrinkageSummary, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	stats, order := aggregateDemandByItem(ds.Demand)
	sort.Ints(order)

	out := make([]models.ShrinkageSummary, 0, len(order))
	for _, id := range order {
		st := stats[id]
		rate := 0.0
		if st.totalUnits > 0 {
			rate = float64(st.totalShrink) / float64(st.totalUnits)
		}
		out = append(out, models.ShrinkageSummary{
			ItemID:         id,
			TotalUnitsSold: st.totalUnits,
			TotalShrinkage: st.totalShrink,
			ShrinkageRate:  rate,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalShrinkage > out[j].TotalShrinkage })
	return head(out, topN), nil
}

// PromoLift は (プロモ平均 - 通常平均) / 通常平均 の大きい順に返す。
// どちらかの行がない品目と、通常平均が0の品目は除く。
func (s *AnalyticsService) PromoLift(topN int) ([]models.PromoLift, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	stats, order := aggregateDemandByItem(ds.Demand)
	sort.Ints(order)

	out := make([]models.PromoLift, 0)
	for _, id := range order {
		st := stats[id]
		if st.promoRows == 0 || st.nonPromoRows == 0 {
			continue
		}
		promoMean := float64(st.promoUnits) / float64(st.promoRows)
		nonPromoMean := float64(st.nonPromoUnits) / float64(st.nonPromoRows)
		lift := (promoMean - nonPromoMean) / nonPromoMean
		if math.IsInf(lift, 0) || math.IsNaN(lift) {
			continue
		}
		out = append(out, models.PromoLift{
			ItemID:       id,
			PromoMean:    promoMean,
			NonPromoMean: nonPromoMean,
			PromoLift:    lift,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PromoLift > out[j].PromoLift })
	return head(out, topN), nil
}

// SupplierRisk は 0.5(1-定時率) + 0.3不良率 + 0.2(リードタイム/最大リードタイム) の高い順に返す
func (s *AnalyticsService) SupplierRisk(topN int) ([]models.SupplierRisk, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}

	maxLead := 0
	for _, sp := range ds.Suppliers {
		if sp.LeadTimeDays > maxLead {
			maxLead = sp.LeadTimeDays
		}
	}

	out := make([]models.SupplierRisk, 0, len(ds.Suppliers))
	for _, sp := range ds.Suppliers {
		leadNorm := 0.0
		if maxLead > 0 {
			leadNorm = float64(sp.LeadTimeDays) / float64(maxLead)
		}
		out = append(out, models.SupplierRisk{
			SupplierID:   sp.SupplierID,
			SupplierName: sp.SupplierName,
			OnTimeRate:   sp.OnTimeRate,
			DefectRate:   sp.DefectRate,
			LeadTimeDays: sp.LeadTimeDays,
			RiskScore:    (1-sp.OnTimeRate)*0.5 + sp.DefectRate*0.3 + leadNorm*0.2,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	return head(out, topN), nil
}

// ShipmentDelays は輸送日数の長い順に返す
func (s *AnalyticsService) ShipmentDelays(topN int) ([]models.ShipmentDelay, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.ShipmentDelay, 0, len(ds.Shipments))
	for _, sh := range ds.Shipments {
		out = append(out, models.ShipmentDelay{
			ShipmentID:   sh.ShipmentID,
			ItemID:       sh.ItemID,
			SupplierID:   sh.SupplierID,
			Qty:          sh.Qty,
			DateShipped:  sh.DateShipped,
			DateReceived: sh.DateReceived,
			TransitDays:  sh.TransitDays(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TransitDays > out[j].TransitDays })
	return head(out, topN), nil
}

// Anomalies は販売数の異常値を入力順で返す
func (s *AnalyticsService) Anomalies() ([]models.DemandAnomaly, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	out := s.anomaly.Detect(ds.Demand)
	s.logger.Debug("anomaly detection", zap.Int("rows", len(ds.Demand)), zap.Int("anomalies", len(out)))
	return out, nil
}

// DemandTrend は品目の日次系列を週次・月次に集計する
func (s *AnalyticsService) DemandTrend(itemID int, granularity, method string) ([]AggregatedPoint, error) {
	ds, err := s.load()
	if err != nil {
		return nil, err
	}
	series := DailyDemandSeries(ds.Demand, itemID)
	if series.Len() == 0 && !inventoryHasItem(ds.Inventory, itemID) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownItem, itemID)
	}
	return AggregateDemandTo(series.Points, granularity, method)
}

// head returns the first n elements; n <= 0 returns everything.
func head[T any](rows []T, n int) []T {
	if n > 0 && n < len(rows) {
		return rows[:n]
	}
	return rows
}
