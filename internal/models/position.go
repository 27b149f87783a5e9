// Package models defines the core data types shared across the hedger:
// contract classification, directional stance, and hedge proposals.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecognizedInstrument is returned when a trading symbol matches none of
// the known FUT/CE/PE suffix patterns.
var ErrUnrecognizedInstrument = errors.New("unrecognized instrument")

// ContractKind identifies the derivative contract type encoded in a
// trading-symbol suffix.
type ContractKind string

const (
	// ContractFuture is a futures contract (symbol suffix FUT).
	ContractFuture ContractKind = "FUT"
	// ContractCall is a call option (symbol suffix CE).
	ContractCall ContractKind = "CE"
	// ContractPut is a put option (symbol suffix PE).
	ContractPut ContractKind = "PE"
)

// Stance is the directional stance of a position.
type Stance string

const (
	// StanceLong marks bullish exposure.
	StanceLong Stance = "LONG"
	// StanceShort marks bearish exposure.
	StanceShort Stance = "SHORT"
)

// ClassifyContract maps a trading-symbol suffix to its contract kind.
//
// The suffix heuristic is fragile by nature: an underlying whose own name
// ends in "PE" would collide with the put suffix. It is kept for
// compatibility with the exchange's symbology and isolated here so the
// ambiguity stays in one testable place.
func ClassifyContract(tradingSymbol string) (ContractKind, error) {
	switch {
	case strings.HasSuffix(tradingSymbol, "FUT"):
		return ContractFuture, nil
	case strings.HasSuffix(tradingSymbol, "CE"):
		return ContractCall, nil
	case strings.HasSuffix(tradingSymbol, "PE"):
		return ContractPut, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnrecognizedInstrument, tradingSymbol)
	}
}

// ClassifyStance returns the directional stance for a contract kind and
// signed quantity. For futures and calls a positive quantity is long.
//
// For puts the sign is inverted: a short put is a bullish position, so a
// negative put quantity counts as LONG. The inversion mirrors option
// economics and is intentional, not an oversight.
func ClassifyStance(kind ContractKind, quantity int) Stance {
	if kind == ContractPut {
		if quantity < 0 {
			return StanceLong
		}
		return StanceShort
	}
	if quantity > 0 {
		return StanceLong
	}
	return StanceShort
}

// UnderlyingSymbol extracts the underlying name from a trading symbol: the
// leading run of uppercase letters before expiry codes and strike digits.
// PIDILITIND23DEC2500PE yields PIDILITIND.
func UnderlyingSymbol(tradingSymbol string) string {
	for i := 0; i < len(tradingSymbol); i++ {
		if c := tradingSymbol[i]; c < 'A' || c > 'Z' {
			return tradingSymbol[:i]
		}
	}
	return tradingSymbol
}

// IsHedge reports whether a position is a pre-existing protective holding:
// a long option, not a future. Informational only; it does not suppress
// hedge recommendations.
func IsHedge(kind ContractKind, quantity int) bool {
	return kind != ContractFuture && quantity > 0
}
