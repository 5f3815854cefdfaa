package credit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateExample(t *testing.T) {
	wallet := Wallet{PointRemain: 500, PointFrozen: 0}
	packs := []CreditPack{{ID: 1, Capacity: 1000, Used: 200, Frozen: 0, Active: true}}

	info := Calculate(wallet, packs, testNow)

	assert.Equal(t, int64(800), info.RemainingCredits)
	assert.Equal(t, int64(500), info.RemainingPoints)
	assert.Equal(t, int64(1300), info.AvailableUnits)
	assert.True(t, info.TotalBalance.Equal(dec("1.3")), "total=%s", info.TotalBalance)
	assert.True(t, info.AvailableBalance.Equal(dec("1.3")), "available=%s", info.AvailableBalance)
	assert.Empty(t, info.Anomalies)
}

func TestCalculateDeterministic(t *testing.T) {
	wallet := Wallet{PointRemain: 1234, PointFrozen: 34, PointUsed: 99}
	packs := []CreditPack{
		{ID: 1, Capacity: 5000, Used: 1000, Frozen: 100, Active: true},
		{ID: 2, Capacity: 300, Used: 300, Active: false},
	}

	assert.Equal(t, Calculate(wallet, packs, testNow), Calculate(wallet, packs, testNow))
}

func TestCalculateClampsOverdrawnPack(t *testing.T) {
	packs := []CreditPack{
		{ID: 7, Capacity: 100, Used: 80, Frozen: 50, Active: true},
		{ID: 8, Capacity: 100, Used: 10, Active: true},
	}

	info := Calculate(Wallet{}, packs, testNow)

	assert.Equal(t, int64(90), info.RemainingCredits)
	assert.GreaterOrEqual(t, info.RemainingCredits, int64(0))
	assert.NotEmpty(t, info.Anomalies)
}

func TestCalculateSkipsInactiveAndExpiredPacks(t *testing.T) {
	packs := []CreditPack{
		{ID: 1, Capacity: 1000, Active: true, ExpiredAt: testNow.Add(time.Hour)},
		{ID: 2, Capacity: 1000, Active: true, ExpiredAt: testNow.Add(-time.Hour)},
		{ID: 3, Capacity: 1000, Active: false},
	}

	info := Calculate(Wallet{}, packs, testNow)

	assert.Equal(t, int64(1000), info.RemainingCredits)
	assert.Equal(t, 3, info.PackCount)
	assert.Equal(t, 1, info.ActivePackCount)
	assert.Equal(t, int64(3000), info.TotalCapacity)
}

func TestCalculateEmptyPacks(t *testing.T) {
	info := Calculate(Wallet{PointRemain: 2000}, nil, testNow)

	assert.Equal(t, int64(0), info.RemainingCredits)
	assert.Equal(t, int64(2000), info.AvailableUnits)
	assert.True(t, info.TotalBalance.Equal(dec("2")))
}

func TestCalculateFrozenReducesAvailable(t *testing.T) {
	wallet := Wallet{PointRemain: 1000, PointFrozen: 250}

	info := Calculate(wallet, nil, testNow)

	assert.True(t, info.TotalBalance.Equal(dec("1")))
	assert.True(t, info.AvailableBalance.Equal(dec("0.75")))
	assert.Equal(t, int64(750), info.AvailableUnits)
}

func TestCalculateClampsNegativeAvailable(t *testing.T) {
	wallet := Wallet{PointRemain: 100, PointFrozen: 400}

	info := Calculate(wallet, nil, testNow)

	assert.True(t, info.AvailableBalance.IsZero())
	assert.Equal(t, int64(0), info.AvailableUnits)
	assert.NotEmpty(t, info.Anomalies)
}

func TestCalculatePrefersBackendAggregate(t *testing.T) {
	agg := int64(600)
	wallet := Wallet{AvailableCredits: &agg}
	packs := []CreditPack{{ID: 1, Capacity: 1000, Used: 200, Active: true}}

	info := Calculate(wallet, packs, testNow)

	assert.Equal(t, int64(600), info.RemainingCredits)
	assert.Len(t, info.Anomalies, 1)
}

func TestCalculateMatchingAggregateIsClean(t *testing.T) {
	agg := int64(800)
	wallet := Wallet{AvailableCredits: &agg}
	packs := []CreditPack{{ID: 1, Capacity: 1000, Used: 200, Active: true}}

	info := Calculate(wallet, packs, testNow)

	assert.Equal(t, int64(800), info.RemainingCredits)
	assert.Empty(t, info.Anomalies)
}
