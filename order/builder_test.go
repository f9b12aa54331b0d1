package order_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/hlexec/order"
	"github.com/ordersys/hlexec/types"
)

func samplePayload() types.DecisionPayload {
	return types.DecisionPayload{
		Timestamp:  time.Now(),
		Side:       types.SideBuy,
		Size:       decimal.NewFromFloat(0.01),
		DecisionID: "D1",
		Market: types.MarketSnapshot{
			Coin: "BTC",
			Mid:  decimal.NewFromInt(50_000),
		},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	payload := samplePayload()

	o1, err := order.Build(payload)
	require.NoError(t, err)
	o2, err := order.Build(payload)
	require.NoError(t, err)

	assert.Equal(t, o1.ClientOrderID, o2.ClientOrderID)
	assert.Equal(t, "D1", o1.ClientOrderID)
	assert.Equal(t, types.TIFGTC, o1.TIF)
}

func TestBuildRejectsInvalidSize(t *testing.T) {
	payload := samplePayload()
	payload.Size = decimal.Zero

	_, err := order.Build(payload)
	assert.Error(t, err)
}

func TestBuildInfersExitFromOppositePosition(t *testing.T) {
	payload := samplePayload()
	payload.OpenPosition = &types.OpenPosition{Side: types.SideSell, Size: decimal.NewFromFloat(0.02)}

	ord, err := order.Build(payload)
	require.NoError(t, err)
	assert.Equal(t, types.IntentExit, ord.Intent)
	assert.Equal(t, 1, ord.SplitCount)
}

func TestRiskAllocationScalesSizeOnly(t *testing.T) {
	payload := samplePayload()
	payload.RiskAllocation = &types.RiskAllocation{SizeMultiplier: decimal.NewFromFloat(2)}

	ord, err := order.Build(payload)
	require.NoError(t, err)
	assert.True(t, ord.Size.Equal(decimal.NewFromFloat(0.02)))
	assert.True(t, ord.Price.Equal(decimal.NewFromInt(50_000)))
}

func TestEncodeSplitSizesSumToOrderSize(t *testing.T) {
	payload := samplePayload()
	payload.Aggressiveness = types.AggressivenessLow // split count 3
	payload.Size = decimal.NewFromFloat(0.1)

	ord, err := order.Build(payload)
	require.NoError(t, err)
	assert.Equal(t, 3, ord.SplitCount)

	action := order.Encode(ord)
	require.Len(t, action.Orders, 3)

	sum := decimal.Zero
	for _, child := range action.Orders {
		sz, err := decimal.NewFromString(child.Sz)
		require.NoError(t, err)
		sum = sum.Add(sz)
	}
	diff := sum.Sub(ord.Size).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.New(1, -8)))
}

func TestEncodeIsDeterministic(t *testing.T) {
	payload := samplePayload()
	ord, err := order.Build(payload)
	require.NoError(t, err)

	a1 := order.Encode(ord)
	a2 := order.Encode(ord)
	assert.Equal(t, a1, a2)
}

func TestEncodeReduceOnlyOnExit(t *testing.T) {
	payload := samplePayload()
	payload.OpenPosition = &types.OpenPosition{Side: types.SideSell, Size: decimal.NewFromFloat(0.02)}

	ord, err := order.Build(payload)
	require.NoError(t, err)

	action := order.Encode(ord)
	for _, child := range action.Orders {
		assert.True(t, child.ReduceOnly)
	}
}
