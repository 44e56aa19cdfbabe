package services

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ARIMA(2,1,2) without constant, fitted by conditional sum of squares.
const (
	arOrder = 2
	maOrder = 2

	// infeasible parameter sets get a large finite cost so Nelder-Mead walks away from them
	cssPenalty = 1e12
)

// FitError is returned by a Fitter when the model cannot be estimated.
// The forecast engine turns it into the flat-mean fallback; it never reaches callers.
type FitError struct {
	Reason string
	Err    error
}

func (e *FitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("arima fit failed: %s: %v", e.Reason, e.Err)
	}
	return "arima fit failed: " + e.Reason
}

func (e *FitError) Unwrap() error { return e.Err }

// ARIMAParams are the estimated coefficients of the differenced series.
type ARIMAParams struct {
	Phi    [arOrder]float64 `json:"phi"`
	Theta  [maOrder]float64 `json:"theta"`
	Sigma2 float64          `json:"sigma2"`
}

// Fitter estimates ARIMA(2,1,2) parameters from a level series.
type Fitter interface {
	Fit(values []float64) (ARIMAParams, error)
}

// CSSFitter minimises the conditional sum of squares with Nelder-Mead.
type CSSFitter struct {
	MaxIterations int
}

// NewCSSFitter returns the default fitter.
func NewCSSFitter() *CSSFitter {
	return &CSSFitter{MaxIterations: 2000}
}

// Fit estimates phi/theta on the first difference of values.
func (f *CSSFitter) Fit(values []float64) (ARIMAParams, error) {
	var params ARIMAParams

	w := difference(values)
	if len(w) <= arOrder+maOrder {
		return params, &FitError{Reason: fmt.Sprintf("need more than %d differenced points, got %d", arOrder+maOrder, len(w))}
	}
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return params, &FitError{Reason: "series contains non-finite values"}
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			phi := [arOrder]float64{x[0], x[1]}
			theta := [maOrder]float64{x[2], x[3]}
			if !arStationary(phi) || !maInvertible(theta) {
				return cssPenalty
			}
			css, _ := conditionalResiduals(w, phi, theta)
			if math.IsNaN(css) || math.IsInf(css, 0) {
				return cssPenalty
			}
			return css
		},
	}

	maxIter := f.MaxIterations
	if maxIter <= 0 {
		maxIter = 2000
	}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		FuncEvaluations: maxIter * 4,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, initialGuess(w), settings, &optimize.NelderMead{})
	if err != nil && (result == nil || !limitStatus(result.Status)) {
		return params, &FitError{Reason: "optimizer failed", Err: err}
	}
	if result == nil {
		return params, &FitError{Reason: "optimizer returned no result"}
	}

	x := result.X
	if len(x) != arOrder+maOrder || !allFinite(x) || result.F >= cssPenalty {
		return params, &FitError{Reason: "no admissible parameters found"}
	}

	params.Phi = [arOrder]float64{x[0], x[1]}
	params.Theta = [maOrder]float64{x[2], x[3]}
	css, n := conditionalResiduals(w, params.Phi, params.Theta)
	if n > 0 {
		params.Sigma2 = css / float64(n)
	}
	if math.IsNaN(params.Sigma2) || math.IsInf(params.Sigma2, 0) {
		return params, &FitError{Reason: "non-finite residual variance"}
	}
	return params, nil
}

// ARIMAForecast applies fitted parameters to the observed level series and
// returns horizon future levels. Future innovations are zero.
func ARIMAForecast(params ARIMAParams, values []float64, horizon int) ([]float64, error) {
	if horizon <= 0 {
		return nil, nil
	}
	if len(values) < arOrder+1 {
		return nil, &FitError{Reason: "too few observations to forecast"}
	}

	w := difference(values)
	resid := residualSeries(w, params.Phi, params.Theta)

	// extend the differenced series and residuals with forecasts
	wExt := append(make([]float64, 0, len(w)+horizon), w...)
	eExt := append(make([]float64, 0, len(resid)+horizon), resid...)
	out := make([]float64, horizon)
	level := values[len(values)-1]
	for h := 0; h < horizon; h++ {
		t := len(wExt)
		next := 0.0
		for i := 1; i <= arOrder; i++ {
			next += params.Phi[i-1] * wExt[t-i]
		}
		for j := 1; j <= maOrder; j++ {
			next += params.Theta[j-1] * eExt[t-j]
		}
		wExt = append(wExt, next)
		eExt = append(eExt, 0)

		level += next
		out[h] = level
	}

	if !allFinite(out) {
		return nil, &FitError{Reason: "forecast produced non-finite values"}
	}
	return out, nil
}

// conditionalResiduals returns the CSS and the number of terms summed.
// Residuals before index arOrder are fixed at zero.
func conditionalResiduals(w []float64, phi [arOrder]float64, theta [maOrder]float64) (float64, int) {
	e := residualSeries(w, phi, theta)
	var css float64
	n := 0
	for t := arOrder; t < len(e); t++ {
		css += e[t] * e[t]
		n++
	}
	return css, n
}

func residualSeries(w []float64, phi [arOrder]float64, theta [maOrder]float64) []float64 {
	e := make([]float64, len(w))
	for t := arOrder; t < len(w); t++ {
		pred := phi[0]*w[t-1] + phi[1]*w[t-2] + theta[0]*e[t-1] + theta[1]*e[t-2]
		e[t] = w[t] - pred
	}
	return e
}

// arStationary checks the AR(2) stationarity triangle.
func arStationary(phi [arOrder]float64) bool {
	return math.Abs(phi[1]) < 1 && phi[0]+phi[1] < 1 && phi[1]-phi[0] < 1
}

// maInvertible checks the MA(2) invertibility triangle for 1 + th1 B + th2 B^2.
func maInvertible(theta [maOrder]float64) bool {
	return math.Abs(theta[1]) < 1 && theta[0]+theta[1] > -1 && theta[0]-theta[1] < 1
}

// initialGuess uses Yule-Walker AR(2) estimates, shrunk into the stationary
// region, with zero MA terms.
func initialGuess(w []float64) []float64 {
	x := []float64{0, 0, 0, 0}
	if stat.Variance(w, nil) == 0 {
		return x
	}
	mean := stat.Mean(w, nil)
	centered := make([]float64, len(w))
	copy(centered, w)
	floats.AddConst(-mean, centered)

	r1 := autocorr(centered, 1)
	r2 := autocorr(centered, 2)
	den := 1 - r1*r1
	if den == 0 || math.IsNaN(r1) || math.IsNaN(r2) {
		return x
	}
	phi := [arOrder]float64{0.9 * r1 * (1 - r2) / den, 0.9 * (r2 - r1*r1) / den}
	if arStationary(phi) && allFinite(phi[:]) {
		x[0], x[1] = phi[0], phi[1]
	}
	return x
}

func autocorr(x []float64, lag int) float64 {
	if lag >= len(x) {
		return 0
	}
	var num, den float64
	for i := range x {
		den += x[i] * x[i]
		if i >= lag {
			num += x[i] * x[i-lag]
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func difference(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

func allFinite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func limitStatus(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}
