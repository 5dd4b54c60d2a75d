package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func at(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func TestAccumulate_SimpleDeltas(t *testing.T) {
	entries := []Entry{
		{ID: 1, EffectiveAt: at(1), QtyIn: d(10)},
		{ID: 2, EffectiveAt: at(2), QtyOut: d(3)},
		{ID: 3, EffectiveAt: at(3), QtyIn: d(5), QtyOut: d(1)},
	}

	total := Accumulate(decimal.Zero, entries)
	assert.True(t, d(11).Equal(total), "10 - 3 + 4 = 11, got %s", total)
}

func TestAccumulate_CheckpointResetsTotal(t *testing.T) {
	// チェックポイントの保存残高が累計を置き換え、数量は無視される
	entries := []Entry{
		{ID: 1, EffectiveAt: at(1), QtyIn: d(10)},
		{ID: 2, EffectiveAt: at(5), Locked: true, RunningBalance: d(100)},
		{ID: 3, EffectiveAt: at(8), QtyIn: d(7)},
	}

	total := Accumulate(decimal.Zero, entries)
	assert.True(t, d(107).Equal(total), "チェックポイント100 + 7 = 107, got %s", total)
}

func TestAccumulate_MultipleCheckpoints(t *testing.T) {
	// 最後のチェックポイントから再シードされる
	entries := []Entry{
		{ID: 1, EffectiveAt: at(1), Locked: true, RunningBalance: d(50)},
		{ID: 2, EffectiveAt: at(2), QtyIn: d(10)},
		{ID: 3, EffectiveAt: at(10), Locked: true, RunningBalance: d(55)},
		{ID: 4, EffectiveAt: at(12), QtyOut: d(5)},
	}

	total := Accumulate(decimal.Zero, entries)
	assert.True(t, d(50).Equal(total), "55 - 5 = 50, got %s", total)
}

func TestAccumulate_SeedCarriesForward(t *testing.T) {
	entries := []Entry{
		{ID: 1, EffectiveAt: at(2), QtyIn: d(3)},
	}

	total := Accumulate(d(40), entries)
	assert.True(t, d(43).Equal(total))
}

func TestAccumulate_Empty(t *testing.T) {
	assert.True(t, decimal.Zero.Equal(Accumulate(decimal.Zero, nil)))
	assert.True(t, d(9).Equal(Accumulate(d(9), nil)))
}

func TestAccumulate_FractionalQuantities(t *testing.T) {
	half := decimal.NewFromFloat(0.5)
	quarter := decimal.NewFromFloat(0.25)
	entries := []Entry{
		{ID: 1, EffectiveAt: at(1), QtyIn: half},
		{ID: 2, EffectiveAt: at(2), QtyIn: quarter},
	}

	total := Accumulate(decimal.Zero, entries)
	assert.True(t, decimal.NewFromFloat(0.75).Equal(total))
}
