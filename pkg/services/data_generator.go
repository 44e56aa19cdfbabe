package services

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"supplychain-iq-api/pkg/models"
)

// 合成データの既定の行数
const (
	DefaultSyntheticRows = 5000
	demandWindowDays     = 60
)

var (
	syntheticCategories = []string{"Grocery", "Electronics", "Home", "Apparel"}
	syntheticChannels   = []string{"Online", "Store"}
)

// GeneratorOptions 合成データの件数と乱数シード
type GeneratorOptions struct {
	Items      int
	DemandRows int
	Suppliers  int
	Shipments  int
	Seed       int64
	// Today 需要期間の最終日と出荷日の基準日
	Today time.Time
}

// DefaultGeneratorOptions returns 5000 rows per table seeded from the clock.
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		Items:      DefaultSyntheticRows,
		DemandRows: DefaultSyntheticRows,
		Suppliers:  DefaultSyntheticRows,
		Shipments:  DefaultSyntheticRows,
		Seed:       time.Now().UnixNano(),
		Today:      time.Now(),
	}
}

// ProgressFunc is called after each generated row.
type ProgressFunc func(table string, done, total int)

// DataGenerator は4テーブルの合成データを作る。同じシードなら同じ結果になる。
type DataGenerator struct {
	opts  GeneratorOptions
	faker *gofakeit.Faker
	rng   *rand.Rand
}

// NewDataGenerator creates a generator; zero counts fall back to DefaultSyntheticRows.
func NewDataGenerator(opts GeneratorOptions) *DataGenerator {
	for _, n := range []*int{&opts.Items, &opts.DemandRows, &opts.Suppliers, &opts.Shipments} {
		if *n <= 0 {
			*n = DefaultSyntheticRows
		}
	}
	if opts.Today.IsZero() {
		opts.Today = time.Now()
	}
	return &DataGenerator{
		opts:  opts,
		faker: gofakeit.New(opts.Seed),
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

// Generate builds all four tables. progress may be nil.
func (g *DataGenerator) Generate(progress ProgressFunc) *models.Dataset {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	return &models.Dataset{
		Inventory: g.inventory(progress),
		Demand:    g.demand(progress),
		Suppliers: g.suppliers(progress),
		Shipments: g.shipments(progress),
		LoadedAt:  time.Now(),
	}
}

func (g *DataGenerator) inventory(progress ProgressFunc) []models.InventoryItem {
	n := g.opts.Items
	out := make([]models.InventoryItem, 0, n)
	for i := 0; i < n; i++ {
		category := syntheticCategories[g.rng.Intn(len(syntheticCategories))]
		baseCost := g.uniform(2, 300)

		// 在庫水準を3段階に分ける
		var stock, reorder int
		switch tier := g.rng.Float64(); {
		case tier < 0.3:
			stock, reorder = g.randInt(0, 500), g.randInt(100, 400)
		case tier < 0.6:
			stock, reorder = g.randInt(500, 1500), g.randInt(50, 300)
		default:
			stock, reorder = g.randInt(1500, 3000), g.randInt(20, 200)
		}

		out = append(out, models.InventoryItem{
			ItemID:       i + 1,
			Name:         g.faker.Word(),
			Category:     category,
			Stock:        stock,
			ReorderPoint: reorder,
			UnitCost:     round2(baseCost),
			SellingPrice: round2(baseCost * g.uniform(1.15, 2.5)),
		})
		progress(TableInventory, i+1, n)
	}
	return out
}

func (g *DataGenerator) demand(progress ProgressFunc) []models.DemandRecord {
	n := g.opts.DemandRows
	end := models.NewDate(g.opts.Today)
	out := make([]models.DemandRecord, 0, n)
	for i := 0; i < n; i++ {
		promo := 0
		if g.rng.Intn(4) == 0 { // 25%
			promo = 1
		}
		shrinkage := 0
		if g.rng.Float64() < 0.03 {
			shrinkage = 1
		}
		out = append(out, models.DemandRecord{
			Date:      end.AddDays(-g.rng.Intn(demandWindowDays)),
			ItemID:    g.randInt(1, g.opts.Items),
			UnitsSold: g.poisson(5) * (1 + promo),
			Channel:   syntheticChannels[g.rng.Intn(len(syntheticChannels))],
			PromoFlag: promo,
			Shrinkage: shrinkage,
		})
		progress(TableDemand, i+1, n)
	}
	return out
}

func (g *DataGenerator) suppliers(progress ProgressFunc) []models.Supplier {
	n := g.opts.Suppliers
	out := make([]models.Supplier, 0, n)
	for i := 0; i < n; i++ {
		var onTime, defect float64
		var lead int
		switch tier := g.rng.Float64(); {
		case tier < 0.2: // excellent
			onTime, defect, lead = g.uniform(0.85, 0.99), g.uniform(0.01, 0.05), g.randInt(1, 15)
		case tier < 0.5: // good
			onTime, defect, lead = g.uniform(0.70, 0.85), g.uniform(0.05, 0.10), g.randInt(10, 25)
		case tier < 0.8: // average
			onTime, defect, lead = g.uniform(0.55, 0.70), g.uniform(0.08, 0.15), g.randInt(20, 35)
		default: // poor
			onTime, defect, lead = g.uniform(0.40, 0.60), g.uniform(0.12, 0.25), g.randInt(30, 60)
		}
		out = append(out, models.Supplier{
			SupplierID:   i + 1,
			SupplierName: g.faker.Company(),
			OnTimeRate:   round2(onTime),
			DefectRate:   round2(defect),
			LeadTimeDays: lead,
		})
		progress(TableSuppliers, i+1, n)
	}
	return out
}

func (g *DataGenerator) shipments(progress ProgressFunc) []models.Shipment {
	n := g.opts.Shipments
	today := models.NewDate(g.opts.Today)
	out := make([]models.Shipment, 0, n)
	for i := 0; i < n; i++ {
		shipped := today.AddDays(-g.randInt(5, 120))

		var transit int
		switch v := g.rng.Float64(); {
		case v < 0.3:
			transit = g.randInt(1, 30)
		case v < 0.6:
			transit = g.randInt(30, 80)
		case v < 0.9:
			transit = g.randInt(80, 110)
		default:
			transit = g.randInt(110, 150)
		}

		out = append(out, models.Shipment{
			ShipmentID:   i + 1,
			ItemID:       g.randInt(1, g.opts.Items),
			Qty:          g.randInt(10, 500),
			DateShipped:  shipped,
			DateReceived: shipped.AddDays(transit),
			SupplierID:   g.randInt(1, g.opts.Suppliers),
		})
		progress(TableShipments, i+1, n)
	}
	return out
}

// randInt returns an int in [lo, hi].
func (g *DataGenerator) randInt(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *DataGenerator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// poisson uses Knuth's multiplication method, fine for small lambda.
func (g *DataGenerator) poisson(lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	p := g.rng.Float64()
	for p > limit {
		k++
		p *= g.rng.Float64()
	}
	return k
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
