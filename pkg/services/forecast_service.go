package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/models"
)

// 予測の段階を分ける日数のしきい値
const (
	MinModelHistory  = 10 // これ未満は平均値の横ばい
	MinUnpaddedFit   = 20 // これ未満は最終値で水増ししてから学習
	MaxForecastDays  = 365
	defaultEmptyMean = 1.0
)

// ForecastEngine は品目ごとの日次系列から将来の需要を予測する。
// どの入力に対しても horizon 件の結果を返し、エラーは返さない。
type ForecastEngine struct {
	fitter Fitter
	logger *zap.Logger
}

// NewForecastEngine creates a new ForecastEngine. nil fitter uses CSS + Nelder-Mead.
func NewForecastEngine(fitter Fitter, logger *zap.Logger) *ForecastEngine {
	if fitter == nil {
		fitter = NewCSSFitter()
	}
	return &ForecastEngine{fitter: fitter, logger: logging.OrNop(logger)}
}

// Forecast は段階的なフォールバック付きで予測する
//  1. 10日未満: 平均値（観測なしは1.0）の横ばい
//  2. 10〜19日: 最終値で20日まで水増しして学習、予測は実データから
//  3. 20日以上: ARIMA(2,1,2)
//  4. 学習失敗: 実データの平均値の横ばい
func (e *ForecastEngine) Forecast(series models.DemandSeries, horizon int) models.ForecastResult {
	result := models.ForecastResult{ItemID: series.ItemID}
	if horizon <= 0 {
		result.Tier = TierForHistory(series.Len())
		result.Points = []models.ForecastPoint{}
		return result
	}

	values := series.Values()
	start := series.LastDate().AddDays(1)

	if len(values) < MinModelHistory {
		mean := defaultEmptyMean
		if len(values) > 0 {
			mean = stat.Mean(values, nil)
		}
		result.Tier = models.TierInsufficientHistory
		result.Points = flatForecast(start, mean, horizon)
		return result
	}

	fitValues := values
	result.Tier = models.TierModel
	if len(values) < MinUnpaddedFit {
		fitValues = padToLength(values, MinUnpaddedFit)
		result.Tier = models.TierModelPadded
	}

	forecast, err := e.fitAndForecast(fitValues, values, horizon)
	if err != nil {
		e.logger.Warn("forecast model fit failed, using mean fallback",
			zap.Int("item_id", series.ItemID),
			zap.Int("history_days", len(values)),
			zap.Error(err),
		)
		result.Tier = models.TierFitFallback
		result.FitError = err.Error()
		result.Points = flatForecast(start, stat.Mean(values, nil), horizon)
		return result
	}

	result.Points = make([]models.ForecastPoint, horizon)
	for i, v := range forecast {
		result.Points[i] = models.ForecastPoint{Date: start.AddDays(i), ForecastUnits: v}
	}
	return result
}

// fitAndForecast fits on fitValues and forecasts from observed. Panics in the
// fitter are reported as FitError.
func (e *ForecastEngine) fitAndForecast(fitValues, observed []float64, horizon int) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &FitError{Reason: fmt.Sprintf("panic during fit: %v", r)}
		}
	}()

	params, err := e.fitter.Fit(fitValues)
	if err != nil {
		return nil, err
	}
	return ARIMAForecast(params, observed, horizon)
}

// TierForHistory は履歴日数から想定される段階を返す（学習失敗は考慮しない）
func TierForHistory(days int) models.ForecastTier {
	switch {
	case days < MinModelHistory:
		return models.TierInsufficientHistory
	case days < MinUnpaddedFit:
		return models.TierModelPadded
	default:
		return models.TierModel
	}
}

func flatForecast(start models.Date, value float64, horizon int) []models.ForecastPoint {
	points := make([]models.ForecastPoint, horizon)
	for i := range points {
		points[i] = models.ForecastPoint{Date: start.AddDays(i), ForecastUnits: value}
	}
	return points
}

func padToLength(values []float64, n int) []float64 {
	out := make([]float64, 0, n)
	out = append(out, values...)
	last := values[len(values)-1]
	for len(out) < n {
		out = append(out, last)
	}
	return out
}

// ForecastService はデータセットから系列を作り、予測エンジンに渡す
type ForecastService struct {
	datasets *DatasetService
	engine   *ForecastEngine
	strict   bool
	metrics  *Metrics
	logger   *zap.Logger
}

// NewForecastService creates a new ForecastService.
// strict にすると履歴10日未満は ErrInsufficientHistory を返す。
func NewForecastService(datasets *DatasetService, engine *ForecastEngine, strict bool, metrics *Metrics, logger *zap.Logger) *ForecastService {
	return &ForecastService{
		datasets: datasets,
		engine:   engine,
		strict:   strict,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
	}
}

// ForecastItem は品目IDと期間から予測を返す
func (s *ForecastService) ForecastItem(ctx context.Context, itemID, horizon int) (*models.ForecastResult, error) {
	if horizon < 1 || horizon > MaxForecastDays {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizon)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := s.datasets.Load()
	if err != nil {
		return nil, fmt.Errorf("データセットの読み込みに失敗: %w", err)
	}

	series := DailyDemandSeries(ds.Demand, itemID)
	if series.Len() == 0 && !inventoryHasItem(ds.Inventory, itemID) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownItem, itemID)
	}
	if s.strict && series.Len() < MinModelHistory {
		return nil, fmt.Errorf("%w: item %d has %d days", ErrInsufficientHistory, itemID, series.Len())
	}

	result := s.engine.Forecast(series, horizon)
	s.metrics.ObserveForecast(result.Tier)
	s.logger.Debug("forecast computed",
		zap.Int("item_id", itemID),
		zap.Int("horizon", horizon),
		zap.String("tier", string(result.Tier)),
	)
	return &result, nil
}

func inventoryHasItem(items []models.InventoryItem, itemID int) bool {
	for _, it := range items {
		if it.ItemID == itemID {
			return true
		}
	}
	return false
}
