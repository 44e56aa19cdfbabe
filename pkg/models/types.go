package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout はAPIとデータファイルで使う日付フォーマット
const DateLayout = "2006-01-02"

// Date は時刻を持たない暦日（UTC 0時）
type Date struct {
	time.Time
}

// NewDate は任意の時刻をUTCの暦日に切り詰める
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate はYYYY-MM-DD形式（またはRFC3339）の文字列を暦日に変換する
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, time.RFC3339, "2006-01-02 15:04:05", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t), nil
		}
	}
	return Date{}, fmt.Errorf("日付の形式が不正です: %q", s)
}

// AddDays は n 日後の暦日を返す
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// DaysUntil は d から other までの日数
func (d Date) DaysUntil(other Date) int {
	return int(other.Time.Sub(d.Time).Hours() / 24)
}

func (d Date) String() string {
	return d.Time.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// --- 元データ（4テーブル） ---

// InventoryItem 在庫マスタの1行
type InventoryItem struct {
	ItemID       int     `json:"item_id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Stock        int     `json:"stock"`
	ReorderPoint int     `json:"reorder_point"`
	UnitCost     float64 `json:"unit_cost"`
	SellingPrice float64 `json:"selling_price"`
}

// DemandRecord 需要履歴の1行
type DemandRecord struct {
	Date      Date   `json:"date"`
	ItemID    int    `json:"item_id"`
	UnitsSold int    `json:"units_sold"`
	Channel   string `json:"channel"`
	PromoFlag int    `json:"promo_flag"`
	Shrinkage int    `json:"shrinkage"`
}

// Supplier サプライヤーマスタの1行
type Supplier struct {
	SupplierID   int     `json:"supplier_id"`
	SupplierName string  `json:"supplier_name"`
	OnTimeRate   float64 `json:"on_time_rate"`
	DefectRate   float64 `json:"defect_rate"`
	LeadTimeDays int     `json:"lead_time_days"`
}

// Shipment 出荷記録の1行
type Shipment struct {
	ShipmentID   int  `json:"shipment_id"`
	ItemID       int  `json:"item_id"`
	Qty          int  `json:"qty"`
	DateShipped  Date `json:"date_shipped"`
	DateReceived Date `json:"date_received"`
	SupplierID   int  `json:"supplier_id"`
}

// TransitDays 出荷から受領までの日数
func (s Shipment) TransitDays() int {
	return s.DateShipped.DaysUntil(s.DateReceived)
}

// Dataset 4テーブルをまとめたスナップショット
type Dataset struct {
	Inventory []InventoryItem
	Demand    []DemandRecord
	Suppliers []Supplier
	Shipments []Shipment
	LoadedAt  time.Time

	// NullCounts はテーブル名→列名→空セル数（読み込み時に数えたもの）
	NullCounts map[string]map[string]int
}

// --- 需要予測 ---

// DemandPoint 日次需要の1点
type DemandPoint struct {
	Date      Date    `json:"date"`
	UnitsSold float64 `json:"units_sold"`
}

// DemandSeries 1品目の連続した日次需要系列（欠損日は0で補完済み）
type DemandSeries struct {
	ItemID int
	Points []DemandPoint
	// AsOf は系列が空のときに予測開始日の基準として使う日付
	AsOf Date
}

// Len は観測日数を返す
func (s DemandSeries) Len() int { return len(s.Points) }

// Values は数量だけを取り出す
func (s DemandSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.UnitsSold
	}
	return out
}

// LastDate は最終観測日。空の系列では AsOf を返す
func (s DemandSeries) LastDate() Date {
	if len(s.Points) == 0 {
		return s.AsOf
	}
	return s.Points[len(s.Points)-1].Date
}

// ForecastTier どの段階で予測値が作られたか
type ForecastTier string

const (
	TierInsufficientHistory ForecastTier = "insufficient_history"
	TierModel               ForecastTier = "model"
	TierModelPadded         ForecastTier = "model_padded"
	TierFitFallback         ForecastTier = "fit_fallback"
)

// ForecastPoint 予測の1点
type ForecastPoint struct {
	Date          Date    `json:"date"`
	ForecastUnits float64 `json:"forecast_units"`
}

// ForecastResult 予測結果。Points は常にホライズンと同じ長さ
type ForecastResult struct {
	ItemID   int             `json:"item_id"`
	Tier     ForecastTier    `json:"tier"`
	Points   []ForecastPoint `json:"points"`
	FitError string          `json:"fit_error,omitempty"`
}

// --- RAG ---

// EntityType チャンクの元になったエンティティ種別
type EntityType string

const (
	EntityItem     EntityType = "item"
	EntitySupplier EntityType = "supplier"
)

// ChunkMetadata チャンクの出典
type ChunkMetadata struct {
	Type EntityType `json:"type"`
	ID   int        `json:"id"`
}

// DocumentChunk 検索対象のテキストチャンク（不変）
type DocumentChunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// SearchHit 検索結果の1件
type SearchHit struct {
	Chunk    DocumentChunk `json:"chunk"`
	Distance float64       `json:"distance"`
	Position int           `json:"position"`
}

// RAGQueryRequest /rag/query のリクエスト
type RAGQueryRequest struct {
	Query string `json:"query" binding:"required"`
	K     int    `json:"k,omitempty"`
}

// RAGQueryResponse /rag/query のレスポンス
type RAGQueryResponse struct {
	Answer           string `json:"answer"`
	RetrievedContext string `json:"retrieved_context"`
}

// IndexStatus 検索インデックスの状態
type IndexStatus struct {
	Ready      bool      `json:"ready"`
	Generation uint64    `json:"generation"`
	Chunks     int       `json:"chunks"`
	Backend    string    `json:"backend"`
	Embedder   string    `json:"embedder"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
}

// --- 分析結果 ---

// TableSummary テーブルの概要統計
type TableSummary struct {
	Shape      []int                             `json:"shape"`
	Summary    map[string]map[string]interface{} `json:"summary"`
	NullCounts map[string]int                    `json:"null_counts"`
}

// StockoutRisk 欠品リスク（在庫日数が小さいほど高リスク）
type StockoutRisk struct {
	ItemID         int     `json:"item_id"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Stock          int     `json:"stock"`
	ReorderPoint   int     `json:"reorder_point"`
	AvgDailyDemand float64 `json:"avg_daily_demand"`
	DaysOfSupply   float64 `json:"days_of_supply"`
}

// ExcessInventory 過剰在庫
type ExcessInventory struct {
	ItemID         int     `json:"item_id"`
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Stock          int     `json:"stock"`
	ReorderPoint   int     `json:"reorder_point"`
	AvgDailyDemand float64 `json:"avg_daily_demand"`
	ExcessUnits    int     `json:"excess_units"`
}

// ShrinkageSummary 品目別のロス
type ShrinkageSummary struct {
	ItemID         int     `json:"item_id"`
	TotalUnitsSold int     `json:"total_units_sold"`
	TotalShrinkage int     `json:"total_shrinkage"`
	ShrinkageRate  float64 `json:"shrinkage_rate"`
}

// PromoLift プロモーション効果
type PromoLift struct {
	ItemID       int     `json:"item_id"`
	PromoMean    float64 `json:"promo_mean"`
	NonPromoMean float64 `json:"nonpromo_mean"`
	PromoLift    float64 `json:"promo_lift"`
}

// SupplierRisk サプライヤーリスクスコア（高いほど危険）
type SupplierRisk struct {
	SupplierID   int     `json:"supplier_id"`
	SupplierName string  `json:"supplier_name"`
	OnTimeRate   float64 `json:"on_time_rate"`
	DefectRate   float64 `json:"defect_rate"`
	LeadTimeDays int     `json:"lead_time_days"`
	RiskScore    float64 `json:"risk_score"`
}

// ShipmentDelay 出荷ごとの輸送日数
type ShipmentDelay struct {
	ShipmentID   int  `json:"shipment_id"`
	ItemID       int  `json:"item_id"`
	SupplierID   int  `json:"supplier_id"`
	Qty          int  `json:"qty"`
	DateShipped  Date `json:"date_shipped"`
	DateReceived Date `json:"date_received"`
	TransitDays  int  `json:"transit_days"`
}

// DemandAnomaly 需要の異常値
type DemandAnomaly struct {
	Date      Date    `json:"date"`
	ItemID    int     `json:"item_id"`
	UnitsSold int     `json:"units_sold"`
	Channel   string  `json:"channel"`
	PromoFlag int     `json:"promo_flag"`
	Shrinkage int     `json:"shrinkage"`
	Score     float64 `json:"score"`
}
