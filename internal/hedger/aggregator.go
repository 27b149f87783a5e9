// Package hedger implements the hedge-matching core: per-underlying net
// exposure over open derivative positions, and protective option planning
// at a percentage offset from spot.
package hedger

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/avilpage/autohedger/internal/broker"
	"github.com/avilpage/autohedger/internal/models"
)

// derivativesExchange is the only exchange whose positions participate in
// hedge math; equity/cash positions are discarded.
const derivativesExchange = "NFO"

// LotSizer answers lot-size lookups by exact trading symbol.
type LotSizer interface {
	LotSize(tradingSymbol string) (int, error)
}

// Exposure is the net long/short lot tally for one underlying.
type Exposure struct {
	Underlying string `json:"underlying"`
	Long       int    `json:"long"`
	Short      int    `json:"short"`
}

// Net returns long lots minus short lots.
func (e Exposure) Net() int { return e.Long - e.Short }

// AuditRow is the per-position display record produced during aggregation.
// Sub-lot positions appear here with SubLot set even though they are
// excluded from the exposure tallies.
type AuditRow struct {
	TradingSymbol string              `json:"tradingsymbol"`
	Quantity      int                 `json:"quantity"`
	Kind          models.ContractKind `json:"kind"`
	Stance        models.Stance       `json:"stance"`
	Lots          int                 `json:"lots"`
	IsHedge       bool                `json:"is_hedge"`
	SubLot        bool                `json:"sub_lot"`
}

// AggregateResult is everything one aggregation pass produces.
type AggregateResult struct {
	// Exposures in first-appearance order of the sorted position list,
	// so repeated runs over unchanged positions iterate identically.
	Exposures []Exposure
	Audit     []AuditRow
	// Skipped records positions excluded from aggregation, with reasons.
	Skipped []string
}

// Aggregator nets open positions into per-underlying exposure.
type Aggregator struct {
	lots   LotSizer
	logger *log.Logger
}

// NewAggregator creates an aggregator backed by the given lot-size source.
func NewAggregator(lots LotSizer, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(os.Stderr, "hedger: ", log.LstdFlags)
	}
	return &Aggregator{lots: lots, logger: logger}
}

// Aggregate classifies, filters, and nets the raw position list.
//
// Positions are sorted by trading symbol first so downstream iteration
// order is deterministic. Only derivatives-exchange positions survive the
// filter. A position whose symbol suffix is unrecognized, or whose symbol
// has no catalog row, is skipped with a recorded reason; the batch
// continues. Positions smaller than one lot are kept in the audit list but
// excluded from the tallies.
func (a *Aggregator) Aggregate(raw []broker.PositionRecord) AggregateResult {
	positions := make([]broker.PositionRecord, len(raw))
	copy(positions, raw)
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].TradingSymbol < positions[j].TradingSymbol
	})

	var result AggregateResult
	index := make(map[string]int)

	for _, pos := range positions {
		if pos.Exchange != derivativesExchange {
			continue
		}

		kind, err := models.ClassifyContract(pos.TradingSymbol)
		if err != nil {
			a.logger.Printf("skipping position: %v", err)
			result.Skipped = append(result.Skipped, err.Error())
			continue
		}

		lotSize, err := a.lots.LotSize(pos.TradingSymbol)
		if err != nil || lotSize <= 0 {
			if err == nil {
				err = fmt.Errorf("catalog reports lot size %d for %s", lotSize, pos.TradingSymbol)
			}
			a.logger.Printf("skipping position: %v", err)
			result.Skipped = append(result.Skipped, err.Error())
			continue
		}

		stance := models.ClassifyStance(kind, pos.Quantity)
		lots := abs(pos.Quantity) / lotSize
		row := AuditRow{
			TradingSymbol: pos.TradingSymbol,
			Quantity:      pos.Quantity,
			Kind:          kind,
			Stance:        stance,
			Lots:          lots,
			IsHedge:       models.IsHedge(kind, pos.Quantity),
			SubLot:        lots == 0,
		}
		result.Audit = append(result.Audit, row)

		if lots == 0 {
			// Smaller than one lot: cannot be meaningfully netted.
			continue
		}

		underlying := models.UnderlyingSymbol(pos.TradingSymbol)
		i, ok := index[underlying]
		if !ok {
			i = len(result.Exposures)
			index[underlying] = i
			result.Exposures = append(result.Exposures, Exposure{Underlying: underlying})
		}
		if stance == models.StanceLong {
			result.Exposures[i].Long += lots
		} else {
			result.Exposures[i].Short += lots
		}
	}

	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
