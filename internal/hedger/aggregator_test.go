package hedger

import (
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avilpage/autohedger/internal/broker"
	"github.com/avilpage/autohedger/internal/models"
)

type fakeLots struct {
	sizes map[string]int
}

func (f *fakeLots) LotSize(symbol string) (int, error) {
	size, ok := f.sizes[symbol]
	if !ok {
		return 0, fmt.Errorf("symbol not in instrument catalog: %s", symbol)
	}
	return size, nil
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testAggregator(sizes map[string]int) *Aggregator {
	return NewAggregator(&fakeLots{sizes: sizes}, discard())
}

func TestAggregateNetsLongsAndShorts(t *testing.T) {
	agg := testAggregator(map[string]int{
		"PIDILITIND23DECFUT":    100,
		"PIDILITIND24JANFUT":    100,
		"PIDILITIND23DEC2500PE": 100,
	})

	result := agg.Aggregate([]broker.PositionRecord{
		{TradingSymbol: "PIDILITIND23DECFUT", Exchange: "NFO", Quantity: 200},
		{TradingSymbol: "PIDILITIND24JANFUT", Exchange: "NFO", Quantity: -100},
		// Long put: stance SHORT under the inverted put rule.
		{TradingSymbol: "PIDILITIND23DEC2500PE", Exchange: "NFO", Quantity: 100},
	})

	require.Len(t, result.Exposures, 1)
	exp := result.Exposures[0]
	assert.Equal(t, "PIDILITIND", exp.Underlying)
	assert.Equal(t, 2, exp.Long)
	assert.Equal(t, 2, exp.Short) // 1 short future + 1 long put
	assert.Equal(t, 0, exp.Net())
}

func TestAggregateFiltersEquityPositions(t *testing.T) {
	agg := testAggregator(map[string]int{"PIDILITIND23DECFUT": 100})

	result := agg.Aggregate([]broker.PositionRecord{
		{TradingSymbol: "RELIANCE", Exchange: "NSE", Quantity: 50},
		{TradingSymbol: "PIDILITIND23DECFUT", Exchange: "NFO", Quantity: 100},
	})

	require.Len(t, result.Exposures, 1)
	assert.Equal(t, "PIDILITIND", result.Exposures[0].Underlying)
	assert.Len(t, result.Audit, 1)
}

func TestAggregateSkipsUnrecognizedSuffix(t *testing.T) {
	agg := testAggregator(map[string]int{"PIDILITIND23DECFUT": 100})

	result := agg.Aggregate([]broker.PositionRecord{
		{TradingSymbol: "WEIRDINSTRUMENT-X1", Exchange: "NFO", Quantity: 100},
		{TradingSymbol: "PIDILITIND23DECFUT", Exchange: "NFO", Quantity: 100},
	})

	require.Len(t, result.Exposures, 1)
	require.Len(t, result.Skipped, 1)
	assert.Contains(t, result.Skipped[0], "unrecognized instrument")
}

func TestAggregateSkipsMissingCatalogRow(t *testing.T) {
	agg := testAggregator(map[string]int{})

	result := agg.Aggregate([]broker.PositionRecord{
		{TradingSymbol: "PIDILITIND23DECFUT", Exchange: "NFO", Quantity: 100},
	})

	assert.Empty(t, result.Exposures)
	require.Len(t, result.Skipped, 1)
	assert.Contains(t, result.Skipped[0], "PIDILITIND23DECFUT")
}

func TestAggregateRoutesSubLotPositionsToAudit(t *testing.T) {
	agg := testAggregator(map[string]int{"PIDILITIND23DECFUT": 100})

	result := agg.Aggregate([]broker.PositionRecord{
		{TradingSymbol: "PIDILITIND23DECFUT", Exchange: "NFO", Quantity: 40},
	})

	assert.Empty(t, result.Exposures, "sub-lot position must not be netted")
	require.Len(t, result.Audit, 1)
	assert.True(t, result.Audit[0].SubLot)
	assert.Equal(t, 0, result.Audit[0].Lots)
}

func TestAggregateDeterministicOrder(t *testing.T) {
	agg := testAggregator(map[string]int{
		"TCS23DECFUT":   150,
		"NIFTY23DECFUT": 50,
	})

	// Unordered input: exposures follow sorted-symbol order.
	result := agg.Aggregate([]broker.PositionRecord{
		{TradingSymbol: "TCS23DECFUT", Exchange: "NFO", Quantity: 150},
		{TradingSymbol: "NIFTY23DECFUT", Exchange: "NFO", Quantity: 50},
	})

	require.Len(t, result.Exposures, 2)
	assert.Equal(t, "NIFTY", result.Exposures[0].Underlying)
	assert.Equal(t, "TCS", result.Exposures[1].Underlying)
}

func TestAggregateAuditFlagsHedges(t *testing.T) {
	agg := testAggregator(map[string]int{
		"PIDILITIND23DEC2500PE": 100,
		"PIDILITIND23DECFUT":    100,
	})

	result := agg.Aggregate([]broker.PositionRecord{
		{TradingSymbol: "PIDILITIND23DEC2500PE", Exchange: "NFO", Quantity: 100},
		{TradingSymbol: "PIDILITIND23DECFUT", Exchange: "NFO", Quantity: 100},
	})

	require.Len(t, result.Audit, 2)
	byKind := map[models.ContractKind]AuditRow{}
	for _, row := range result.Audit {
		byKind[row.Kind] = row
	}
	assert.True(t, byKind[models.ContractPut].IsHedge)
	assert.False(t, byKind[models.ContractFuture].IsHedge)
}
