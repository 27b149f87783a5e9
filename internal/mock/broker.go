// Package mock provides the paper-trading broker: a canned portfolio,
// lightly jittered quotes, and synthetic order ids, so the whole hedge flow
// can run without touching a live account.
package mock

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/avilpage/autohedger/internal/broker"
)

// Broker is an in-memory stand-in for the live brokerage.
type Broker struct {
	mu        sync.Mutex
	token     string
	positions []broker.PositionRecord
	prices    map[string]float64
	orders    []broker.OrderRequest
	nextOrder int
}

var _ broker.Broker = (*Broker)(nil)

// secureFloat64 returns a random float64 in [0, 1).
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// NewBroker creates a paper broker holding a small derivatives portfolio:
// an unhedged long future, a partially hedged name, and a sub-lot position.
func NewBroker() *Broker {
	return &Broker{
		positions: []broker.PositionRecord{
			{TradingSymbol: "PIDILITIND25SEPFUT", Exchange: "NFO", Quantity: 200, LastPrice: 2512.4, Product: "NRML"},
			{TradingSymbol: "TCS25SEPFUT", Exchange: "NFO", Quantity: -150, LastPrice: 3485.1, Product: "NRML"},
			{TradingSymbol: "TCS25SEP3400PE", Exchange: "NFO", Quantity: -150, LastPrice: 42.6, Product: "NRML"},
			{TradingSymbol: "NIFTY25SEPFUT", Exchange: "NFO", Quantity: 25, LastPrice: 21480.0, Product: "NRML"},
			{TradingSymbol: "PIDILITIND25SEP2400PE", Exchange: "NFO", Quantity: 40, LastPrice: 38.2, Product: "NRML"},
			{TradingSymbol: "RELIANCE", Exchange: "NSE", Quantity: 10, LastPrice: 2890.5, Product: "CNC"},
		},
		prices: map[string]float64{
			"PIDILITIND": 2500,
			"TCS":        3500,
			"NIFTY":      21500,
			"RELIANCE":   2890,
		},
	}
}

// Login accepts any non-empty credentials and issues a fixed token.
func (b *Broker) Login(userID, password, totp string) (string, error) {
	if userID == "" || password == "" {
		return "", &broker.AuthError{Message: "username and password required"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = "paper-token"
	return b.token, nil
}

// CheckToken accepts the fixed paper token, so a session persisted by an
// earlier paper run restores across restarts.
func (b *Broker) CheckToken(token string) (bool, error) {
	return token == "paper-token", nil
}

// Profile returns the paper account's identity.
func (b *Broker) Profile() (*broker.Profile, error) {
	return &broker.Profile{
		UserID:   "PAPER1",
		UserName: "Paper Trader",
		Email:    "paper@example.com",
		Broker:   "PAPER",
	}, nil
}

// Positions returns the canned portfolio.
func (b *Broker) Positions() ([]broker.PositionRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.PositionRecord, len(b.positions))
	copy(out, b.positions)
	return out, nil
}

// LastTradedPrice returns the canned spot price with a small jitter, the
// way a live quote drifts between calls.
func (b *Broker) LastTradedPrice(symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", symbol)
	}
	return price + (secureFloat64()-0.5)*0.4, nil
}

// PlaceOrder records the order and returns a synthetic order id.
func (b *Broker) PlaceOrder(req broker.OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, req)
	b.nextOrder++
	return fmt.Sprintf("paper-%06d", b.nextOrder), nil
}

// Orders returns every order placed so far, for display and tests.
func (b *Broker) Orders() []broker.OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.OrderRequest, len(b.orders))
	copy(out, b.orders)
	return out
}

// sampleCatalog lists the contracts the paper portfolio can trade. The
// option chains bracket the canned spot prices so a hedge at any sensible
// percentage resolves to a real row.
const sampleCatalog = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,lot_size,tick_size,instrument_type,segment,exchange
1,1,PIDILITIND25SEPFUT,PIDILITIND,0,2025-09-25,0,100,0.05,FUT,NFO-FUT,NFO
2,2,PIDILITIND25SEP2150PE,PIDILITIND,0,2025-09-25,2150,100,0.05,PE,NFO-OPT,NFO
3,3,PIDILITIND25SEP2300PE,PIDILITIND,0,2025-09-25,2300,100,0.05,PE,NFO-OPT,NFO
4,4,PIDILITIND25SEP2400PE,PIDILITIND,0,2025-09-25,2400,100,0.05,PE,NFO-OPT,NFO
5,5,PIDILITIND25SEP2600CE,PIDILITIND,0,2025-09-25,2600,100,0.05,CE,NFO-OPT,NFO
6,6,PIDILITIND25SEP2700CE,PIDILITIND,0,2025-09-25,2700,100,0.05,CE,NFO-OPT,NFO
7,7,TCS25SEPFUT,TCS,0,2025-09-25,0,150,0.05,FUT,NFO-FUT,NFO
8,8,TCS25SEP3400PE,TCS,0,2025-09-25,3400,150,0.05,PE,NFO-OPT,NFO
9,9,TCS25SEP3700CE,TCS,0,2025-09-25,3700,150,0.05,CE,NFO-OPT,NFO
10,10,TCS25SEP3800CE,TCS,0,2025-09-25,3800,150,0.05,CE,NFO-OPT,NFO
11,11,TCS25SEP3900CE,TCS,0,2025-09-25,3900,150,0.05,CE,NFO-OPT,NFO
12,12,NIFTY25SEPFUT,NIFTY,0,2025-09-25,0,25,0.05,FUT,NFO-FUT,NFO
13,13,NIFTY25SEP20000PE,NIFTY,0,2025-09-25,20000,25,0.05,PE,NFO-OPT,NFO
14,14,NIFTY25SEP20500PE,NIFTY,0,2025-09-25,20500,25,0.05,PE,NFO-OPT,NFO
15,15,NIFTY25SEP22500CE,NIFTY,0,2025-09-25,22500,25,0.05,CE,NFO-OPT,NFO
16,16,RELIANCE,RELIANCE,0,,0,1,0.05,EQ,NSE,NSE
`

// WriteSampleCatalog writes the paper instrument dump to path, creating it
// only when absent so a hand-edited copy survives restarts.
func WriteSampleCatalog(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(sampleCatalog), 0o644)
}
