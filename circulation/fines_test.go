package circulation_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kutubxona/circulation-engine/circulation"
)

func TestFlatRate(t *testing.T) {
	flat := circulation.NewFlatRate(decimal.NewFromInt(5000))

	assert.True(t, decimal.NewFromInt(5000).Equal(flat.Fine(1)))
	assert.True(t, decimal.NewFromInt(15000).Equal(flat.Fine(3)))
	assert.True(t, decimal.NewFromInt(150000).Equal(flat.Fine(30)))
	assert.True(t, flat.Fine(0).IsZero())
}

func TestProgressive_Brackets(t *testing.T) {
	// Stock tiers: days 1-7 at 3000, 8-14 at 5000, 15-30 at 7000,
	// 31 onward at 10000. Each day is charged at its own bracket's rate.
	p := circulation.NewProgressive()

	cases := []struct {
		days int
		want int64
	}{
		{0, 0},
		{1, 3000},
		{3, 9000},                                // 3 * 3000
		{7, 21000},                               // full first bracket
		{8, 26000},                               // 21000 + 5000
		{10, 36000},                              // 21000 + 3 * 5000
		{14, 56000},                              // first two brackets full
		{15, 63000},                              // 56000 + 7000
		{30, 168000},                             // 56000 + 16 * 7000
		{31, 178000},                             // 168000 + 10000
		{40, 268000},                             // 168000 + 10 * 10000
	}
	for _, tc := range cases {
		got := p.Fine(tc.days)
		assert.True(t, decimal.NewFromInt(tc.want).Equal(got),
			"days=%d: want %d, got %s", tc.days, tc.want, got)
	}
}

func TestCapped_BoundsTheInnerSchedule(t *testing.T) {
	// GIVEN: A flat 5000/day schedule capped at 40000
	// THEN: Short delays pass through; long delays stop at the ceiling
	capped := circulation.NewCapped(circulation.NewFlatRate(decimal.NewFromInt(5000)), decimal.NewFromInt(40000))

	assert.True(t, decimal.NewFromInt(15000).Equal(capped.Fine(3)))
	assert.True(t, decimal.NewFromInt(40000).Equal(capped.Fine(8)))
	assert.True(t, decimal.NewFromInt(40000).Equal(capped.Fine(100)))

	// A zero ceiling disables the cap.
	open := circulation.NewCapped(circulation.NewFlatRate(decimal.NewFromInt(5000)), decimal.Zero)
	assert.True(t, decimal.NewFromInt(500000).Equal(open.Fine(100)))
}

func TestProgressive_ExceedsFlatForLongDelays(t *testing.T) {
	// GIVEN: The stock schedules
	// THEN: Progressive charges less than flat for short delays and more
	//       past the top bracket
	flat := circulation.NewFlatRate(circulation.DefaultDailyRate)
	prog := circulation.NewProgressive()

	assert.True(t, prog.Fine(3).LessThan(flat.Fine(3)))
	assert.True(t, prog.Fine(60).GreaterThan(flat.Fine(60)))
}
