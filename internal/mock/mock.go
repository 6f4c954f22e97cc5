// Package mock generates synthetic scored transactions for demo mode.
package mock

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
)

// Config controls the generator.
type Config struct {
	// Seed makes the output reproducible. Zero seeds from the clock.
	Seed int64

	// Classifier decides the bucket of every generated probability and the
	// ranges used for the forced first draws.
	Classifier risk.Classifier

	// Now anchors generated dates. Zero means time.Now at generation time.
	Now time.Time

	// MaxAmount bounds generated amounts. Defaults to 2500.
	MaxAmount float64
}

// Generator produces synthetic processed transactions.
type Generator struct {
	cfg Config

	mu   sync.Mutex
	rand *rand.Rand
}

// New returns a configured Generator.
func New(cfg Config) *Generator {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Classifier == (risk.Classifier{}) {
		cfg.Classifier = risk.DefaultClassifier()
	}
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = 2500
	}
	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Generate returns count records. The first min(count, 3) probabilities are
// drawn from the High, Medium and Low ranges in turn so every bucket shows
// up in small demos; the rest are uniform. The result is shuffled.
func (g *Generator) Generate(count int) []domain.ProcessedTransaction {
	if count <= 0 {
		return []domain.ProcessedTransaction{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	out := make([]domain.ProcessedTransaction, count)
	for i := 0; i < count; i++ {
		p := g.probability(i)
		out[i] = g.cfg.Classifier.Normalize(g.transaction(i, now), p)
	}

	g.rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

func (g *Generator) probability(i int) float64 {
	c := g.cfg.Classifier
	var lo, hi float64
	switch i {
	case 0:
		lo, hi = c.HighThreshold, 1
	case 1:
		lo, hi = c.MediumThreshold, c.HighThreshold
	case 2:
		lo, hi = 0, c.MediumThreshold
	default:
		lo, hi = 0, 1
	}
	if hi <= lo {
		return lo
	}
	p := lo + g.rand.Float64()*(hi-lo)
	if t := decimal.NewFromFloat(p).Truncate(4).InexactFloat64(); t >= lo {
		return t
	}
	return p
}

func (g *Generator) transaction(i int, now time.Time) domain.Transaction {
	at := now.Add(-time.Duration(g.rand.Int63n(int64(90 * 24 * time.Hour))))
	at = at.Truncate(time.Second)

	amount := decimal.NewFromFloat(1 + g.rand.Float64()*(g.cfg.MaxAmount-1)).Round(2).InexactFloat64()
	loc := locations[g.rand.Intn(len(locations))]
	lat := decimal.NewFromFloat(loc.lat + g.rand.Float64() - 0.5).Round(4).InexactFloat64()
	long := decimal.NewFromFloat(loc.long + g.rand.Float64() - 0.5).Round(4).InexactFloat64()

	return domain.Transaction{
		ID:                 fmt.Sprintf("TX-%06d", i+1),
		TransNum:           fmt.Sprintf("%016x%016x", g.rand.Uint64(), g.rand.Uint64()),
		Amount:             domain.Float(amount),
		Amt:                domain.Float(amount),
		Date:               at.Format("01/02/2006"),
		TransDateTransTime: at.Format("2006-01-02 15:04:05"),
		Merchant:           merchants[g.rand.Intn(len(merchants))],
		Category:           categories[g.rand.Intn(len(categories))],
		CCNum:              fmt.Sprintf("4%015d", g.rand.Int63n(1e15)),
		Zip:                fmt.Sprintf("%05d", loc.zip+g.rand.Intn(100)),
		Lat:                domain.Float(lat),
		Long:               domain.Float(long),
		CityPop:            domain.Int(loc.pop/2 + g.rand.Int63n(loc.pop)),
		Job:                jobs[g.rand.Intn(len(jobs))],
		UnixTime:           domain.Int(at.Unix()),
	}
}

var merchants = []string{
	"fraud_Kirlin and Sons",
	"fraud_Sporer-Keebler",
	"fraud_Swaniawski, Nitzsche and Welch",
	"fraud_Haley Group",
	"fraud_Johnston-Casper",
	"fraud_Daugherty LLC",
	"fraud_Romaguera Ltd",
	"fraud_Reichel LLC",
	"fraud_Kuhn LLC",
	"fraud_Lind-Buckridge",
}

var categories = []string{
	"grocery_pos", "gas_transport", "shopping_net", "shopping_pos",
	"misc_pos", "misc_net", "entertainment", "food_dining",
	"health_fitness", "home", "kids_pets", "personal_care", "travel",
}

var jobs = []string{
	"Mechanical engineer",
	"Sales professional, IT",
	"Librarian, public",
	"Set designer",
	"Furniture designer",
	"Psychologist, counselling",
	"Film/video editor",
	"Paramedic",
}

type location struct {
	lat, long float64
	zip       int
	pop       int64
}

var locations = []location{
	{lat: 40.71, long: -74.00, zip: 10001, pop: 1_600_000},
	{lat: 34.05, long: -118.24, zip: 90001, pop: 3_900_000},
	{lat: 41.88, long: -87.63, zip: 60601, pop: 2_700_000},
	{lat: 29.76, long: -95.37, zip: 77001, pop: 2_300_000},
	{lat: 36.08, long: -81.18, zip: 28654, pop: 3_495},
	{lat: 48.89, long: -118.21, zip: 99160, pop: 149},
	{lat: 42.18, long: -112.26, zip: 83252, pop: 4_154},
	{lat: 46.23, long: -112.11, zip: 59632, pop: 1_939},
}
