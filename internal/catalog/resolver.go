package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/avilpage/autohedger/internal/models"
)

// ErrNoListing is returned when no listed option contract matches the
// requested underlying and option type.
var ErrNoListing = errors.New("no listed option contract")

// NearestStrike finds the listed option for the underlying whose strike is
// numerically closest to the target price. Candidates are catalog rows whose
// trading symbol contains the underlying and whose instrument type matches
// the requested option type. The strike is parsed from the trailing digit
// run of the trading symbol, after stripping the option-type suffix. Ties
// break on catalog order: the first minimum wins, so results are stable for
// an unchanged catalog.
//
// The returned strike is rounded to the nearest integer for display.
func (c *Catalog) NearestStrike(underlying string, optionType models.ContractKind, target float64) (string, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bestSymbol := ""
	bestStrike := 0.0
	bestDiff := math.MaxFloat64

	for i := range c.instruments {
		inst := &c.instruments[i]
		if inst.InstrumentType != string(optionType) {
			continue
		}
		if !strings.Contains(inst.TradingSymbol, underlying) {
			continue
		}

		strike, ok := symbolStrike(inst.TradingSymbol, string(optionType))
		if !ok {
			continue
		}

		if diff := math.Abs(strike - target); diff < bestDiff {
			bestDiff = diff
			bestSymbol = inst.TradingSymbol
			bestStrike = strike
		}
	}

	if bestSymbol == "" {
		return "", 0, fmt.Errorf("%w: %s %s", ErrNoListing, underlying, optionType)
	}
	return bestSymbol, int(math.Round(bestStrike)), nil
}

// symbolStrike extracts the strike from an option trading symbol:
// PIDILITIND23DEC2500PE -> 2500. Returns false when the symbol carries no
// trailing digit run after the suffix.
func symbolStrike(tradingSymbol, suffix string) (float64, bool) {
	s := strings.TrimSuffix(tradingSymbol, suffix)
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return 0, false
	}
	strike, err := strconv.ParseFloat(s[i:], 64)
	if err != nil {
		return 0, false
	}
	return strike, true
}
