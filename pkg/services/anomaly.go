package services

import (
	"math"
	"math/rand"
	"sort"

	"supplychain-iq-api/pkg/models"
)

// 異常検知の既定値
const (
	DefaultContamination = 0.02
	defaultForestTrees   = 100
	defaultSubsample     = 256
	defaultForestSeed    = 42
)

// AnomalyDetector は units_sold に対する Isolation Forest。
// スコア上位 ceil(contamination * n) 件を異常とする。
type AnomalyDetector struct {
	contamination float64
	trees         int
	subsample     int
	seed          int64
}

// NewAnomalyDetector creates a detector; contamination outside (0, 0.5] uses the default.
func NewAnomalyDetector(contamination float64) *AnomalyDetector {
	if contamination <= 0 || contamination > 0.5 {
		contamination = DefaultContamination
	}
	return &AnomalyDetector{
		contamination: contamination,
		trees:         defaultForestTrees,
		subsample:     defaultSubsample,
		seed:          defaultForestSeed,
	}
}

// Detect は異常な行を入力順で返す
func (d *AnomalyDetector) Detect(demand []models.DemandRecord) []models.DemandAnomaly {
	if len(demand) == 0 {
		return []models.DemandAnomaly{}
	}
	values := make([]float64, len(demand))
	for i, r := range demand {
		values[i] = float64(r.UnitsSold)
	}
	scores := d.Scores(values)

	k := int(math.Ceil(d.contamination * float64(len(values))))
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	flagged := idx[:k]
	sort.Ints(flagged)

	out := make([]models.DemandAnomaly, 0, k)
	for _, i := range flagged {
		r := demand[i]
		out = append(out, models.DemandAnomaly{
			Date:      r.Date,
			ItemID:    r.ItemID,
			UnitsSold: r.UnitsSold,
			Channel:   r.Channel,
			PromoFlag: r.PromoFlag,
			Shrinkage: r.Shrinkage,
			Score:     scores[i],
		})
	}
	return out
}

// Scores returns the isolation score in (0, 1] for each value; higher is more anomalous.
func (d *AnomalyDetector) Scores(values []float64) []float64 {
	n := len(values)
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}
	rng := rand.New(rand.NewSource(d.seed))

	psi := d.subsample
	if psi > n {
		psi = n
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	forest := make([]*isoNode, d.trees)
	sample := make([]float64, psi)
	for t := range forest {
		for j, i := range rng.Perm(n)[:psi] {
			sample[j] = values[i]
		}
		forest[t] = buildIsoTree(rng, append([]float64(nil), sample...), 0, maxDepth)
	}

	norm := averagePathLength(psi)
	for i, x := range values {
		var total float64
		for _, tree := range forest {
			total += tree.pathLength(x, 0)
		}
		mean := total / float64(len(forest))
		if norm == 0 {
			scores[i] = 0.5
			continue
		}
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

// isoNode 1次元の分割木
type isoNode struct {
	split       float64
	left, right *isoNode
	size        int // leaf only
}

func buildIsoTree(rng *rand.Rand, xs []float64, depth, maxDepth int) *isoNode {
	if depth >= maxDepth || len(xs) <= 1 {
		return &isoNode{size: len(xs)}
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if lo == hi {
		return &isoNode{size: len(xs)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, x := range xs {
		if x < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}
	return &isoNode{
		split: split,
		left:  buildIsoTree(rng, left, depth+1, maxDepth),
		right: buildIsoTree(rng, right, depth+1, maxDepth),
	}
}

func (n *isoNode) pathLength(x float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + averagePathLength(n.size)
	}
	if x < n.split {
		return n.left.pathLength(x, depth+1)
	}
	return n.right.pathLength(x, depth+1)
}

// averagePathLength 二分探索木の失敗探索の平均長 c(n)
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	const eulerGamma = 0.5772156649015329
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
