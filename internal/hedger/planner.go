package hedger

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/google/uuid"

	"github.com/avilpage/autohedger/internal/broker"
	"github.com/avilpage/autohedger/internal/models"
	"github.com/avilpage/autohedger/internal/session"
)

// PriceSource answers last-traded-price lookups for underlying symbols.
type PriceSource interface {
	LastTradedPrice(symbol string) (float64, error)
}

// StrikeResolver locates the listed option contract nearest a target price.
type StrikeResolver interface {
	NearestStrike(underlying string, optionType models.ContractKind, target float64) (string, int, error)
}

// Skip records one underlying that produced no proposal, with the reason.
type Skip struct {
	Underlying string `json:"underlying"`
	Reason     string `json:"reason"`
}

// Planner turns net exposures into hedge proposals.
type Planner struct {
	prices  PriceSource
	strikes StrikeResolver
	logger  *log.Logger
}

// NewPlanner creates a planner over the given price and strike sources.
func NewPlanner(prices PriceSource, strikes StrikeResolver, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(os.Stderr, "hedger: ", log.LstdFlags)
	}
	return &Planner{prices: prices, strikes: strikes, logger: logger}
}

// Plan produces one proposal per hedgeable exposure.
//
// A flat underlying (net zero) produces nothing. Net-long exposure buys
// protective puts below spot; net-short buys protective calls above spot.
// The target strike sits hedgePct percent away from the last traded price,
// out of the money, so the hedge is cheap protection rather than
// at-the-money insurance. Per-underlying failures (no quote, no listing)
// are recorded as skips and do not block the rest of the batch; a missing
// or expired session aborts the whole plan.
func (p *Planner) Plan(exposures []Exposure, hedgePct float64) ([]models.HedgeProposal, []Skip, error) {
	var proposals []models.HedgeProposal
	var skips []Skip

	for _, exp := range exposures {
		diff := exp.Net()
		if diff == 0 {
			continue // fully hedged
		}

		optionType := models.ContractCall
		if diff > 0 {
			optionType = models.ContractPut
		}

		ltp, err := p.prices.LastTradedPrice(exp.Underlying)
		if err != nil {
			// A lost session fails every remaining lookup the same way;
			// abort instead of emitting one identical skip per underlying.
			var authErr *broker.AuthError
			if errors.Is(err, session.ErrNotLoggedIn) || errors.As(err, &authErr) {
				return nil, nil, err
			}
			p.logger.Printf("no quote for %s: %v", exp.Underlying, err)
			skips = append(skips, Skip{Underlying: exp.Underlying, Reason: err.Error()})
			continue
		}
		ltp = math.Round(ltp)

		target := targetPrice(ltp, optionType, hedgePct)

		symbol, strike, err := p.strikes.NearestStrike(exp.Underlying, optionType, target)
		if err != nil {
			p.logger.Printf("no listing for %s %s: %v", exp.Underlying, optionType, err)
			skips = append(skips, Skip{Underlying: exp.Underlying, Reason: err.Error()})
			continue
		}

		proposals = append(proposals, models.HedgeProposal{
			ID:              uuid.New().String(),
			Underlying:      exp.Underlying,
			NetLong:         exp.Long,
			NetShort:        exp.Short,
			NetExposure:     diff,
			LastTradedPrice: ltp,
			OptionType:      optionType,
			TargetPrice:     target,
			Strike:          strike,
			ContractSymbol:  symbol,
			Lots:            abs(diff),
			Approved:        true,
		})
	}

	return proposals, skips, nil
}

// targetPrice offsets spot away from the money by hedgePct percent:
// below spot for puts, above spot for calls.
func targetPrice(ltp float64, optionType models.ContractKind, hedgePct float64) float64 {
	if optionType == models.ContractPut {
		return ltp * (100 - hedgePct) / 100
	}
	return ltp * (100 + hedgePct) / 100
}

// FormatProposal renders a proposal line the way the review table shows it.
func FormatProposal(p models.HedgeProposal) string {
	check := "[ ]"
	if p.Approved {
		check = "[x]"
	}
	return fmt.Sprintf("%s %-12s long=%d short=%d ltp=%.0f target=%.2f buy %d lot(s) of %s (strike %d)",
		check, p.Underlying, p.NetLong, p.NetShort, p.LastTradedPrice, p.TargetPrice, p.Lots, p.ContractSymbol, p.Strike)
}
