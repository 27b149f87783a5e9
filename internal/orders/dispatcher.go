// Package orders submits approved hedge proposals as market buy orders.
package orders

import (
	"fmt"
	"log"
	"os"

	"github.com/avilpage/autohedger/internal/broker"
	"github.com/avilpage/autohedger/internal/models"
)

// OrderPlacer is the order-submission capability the dispatcher needs.
type OrderPlacer interface {
	PlaceOrder(req broker.OrderRequest) (string, error)
}

// LotSizer converts a contract symbol to its lot size in shares.
type LotSizer interface {
	LotSize(tradingSymbol string) (int, error)
}

// Result is the outcome of one proposal's submission. Exactly one of
// OrderID and Err is meaningful.
type Result struct {
	Proposal models.HedgeProposal
	OrderID  string
	Err      error
}

// Dispatcher places one market order per approved proposal.
type Dispatcher struct {
	placer   OrderPlacer
	lots     LotSizer
	exchange string
	product  string
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher. Orders go to exchange with the given
// product type; both have broker-level defaults when empty.
func NewDispatcher(placer OrderPlacer, lots LotSizer, exchange, product string, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if exchange == "" {
		exchange = broker.ExchangeNFO
	}
	if product == "" {
		product = broker.ProductNRML
	}
	return &Dispatcher{
		placer:   placer,
		lots:     lots,
		exchange: exchange,
		product:  product,
		logger:   logger,
	}
}

// Dispatch submits a market buy for every approved proposal, converting
// lots to shares via the contract's lot size. Unapproved proposals are
// skipped without a result. One rejected order does not stop the rest;
// each proposal gets its own Result.
func (d *Dispatcher) Dispatch(proposals []models.HedgeProposal) []Result {
	var results []Result

	for _, p := range proposals {
		if !p.Approved {
			continue
		}

		lotSize, err := d.lots.LotSize(p.ContractSymbol)
		if err != nil {
			d.logger.Printf("order for %s not placed: %v", p.ContractSymbol, err)
			results = append(results, Result{Proposal: p, Err: err})
			continue
		}
		if lotSize <= 0 {
			err := fmt.Errorf("catalog reports lot size %d for %s", lotSize, p.ContractSymbol)
			d.logger.Printf("order for %s not placed: %v", p.ContractSymbol, err)
			results = append(results, Result{Proposal: p, Err: err})
			continue
		}

		req := broker.OrderRequest{
			Exchange:        d.exchange,
			TradingSymbol:   p.ContractSymbol,
			TransactionType: broker.TransactionBuy,
			Quantity:        p.Lots * lotSize,
			Product:         d.product,
			OrderType:       broker.OrderTypeMarket,
			Validity:        broker.ValidityDay,
			Tag:             "AutoHedger",
		}

		orderID, err := d.placer.PlaceOrder(req)
		if err != nil {
			d.logger.Printf("order for %s failed: %v", p.ContractSymbol, err)
			results = append(results, Result{Proposal: p, Err: err})
			continue
		}

		d.logger.Printf("placed market buy: %d x %s (order %s)", req.Quantity, req.TradingSymbol, orderID)
		results = append(results, Result{Proposal: p, OrderID: orderID})
	}

	return results
}
