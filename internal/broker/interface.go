package broker

import (
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// PositionRecord is one raw open-position record from the broker, before any
// classification or aggregation.
type PositionRecord struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	LastPrice     float64 `json:"last_price"`
	Product       string  `json:"product"`
}

// Broker defines the capabilities the hedger needs from a brokerage.
type Broker interface {
	// Authentication
	Login(userID, password, totp string) (string, error)
	CheckToken(token string) (bool, error)

	// Account
	Profile() (*Profile, error)
	Positions() ([]PositionRecord, error)

	// Market data
	LastTradedPrice(symbol string) (float64, error)

	// Order placement
	PlaceOrder(req OrderRequest) (string, error)
}

// Ensure KiteAPI implements Broker at compile time.
var _ Broker = (*KiteAPI)(nil)

// CircuitBreakerBroker wraps a Broker with circuit breaker protection so a
// flapping API does not hammer the brokerage with doomed calls.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible
// defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with
// custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "KiteCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for the wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Login wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) Login(userID, password, totp string) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.Login(userID, password, totp)
	})
}

// CheckToken wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) CheckToken(token string) (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) {
		return b.CheckToken(token)
	})
}

// Profile wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) Profile() (*Profile, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Profile, error) {
		return b.Profile()
	})
}

// Positions wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) Positions() ([]PositionRecord, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionRecord, error) {
		return b.Positions()
	})
}

// LastTradedPrice wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) LastTradedPrice(symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.LastTradedPrice(symbol)
	})
}

// PlaceOrder wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(req OrderRequest) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.PlaceOrder(req)
	})
}
