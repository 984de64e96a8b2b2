/*
fines.go - Fine schedules for late returns

PURPOSE:
  Computes the penalty amount owed for a loan that is N days late. The
  daily rate used to be a literal buried in the return path; here it is a
  pluggable schedule configured on the Engine.

SCHEDULES:
  FlatRate:    amount = daysLate * rate (default 5000/day)
  Progressive: higher rates for longer delays
                 days 1-7:   3000/day
                 days 8-14:  5000/day
                 days 15-30: 7000/day
                 days 31+:  10000/day
  Capped:      bounds any schedule at a fixed ceiling, so a long delay
               never fines more than replacing the book would

SEE ALSO:
  - engine.go: applies the schedule on the borrowed -> late transition
*/
package circulation

import "github.com/shopspring/decimal"

// DefaultDailyRate is the stock flat rate: 5000 currency units per day.
var DefaultDailyRate = decimal.NewFromInt(5000)

// FineSchedule computes the fine owed for a number of days late.
// daysLate is always >= 1 when called by the engine.
type FineSchedule interface {
	Fine(daysLate int) decimal.Decimal
}

// =============================================================================
// FLAT RATE
// =============================================================================

// FlatRate charges the same amount for every day of delay.
type FlatRate struct {
	PerDay decimal.Decimal
}

func NewFlatRate(perDay decimal.Decimal) FlatRate {
	return FlatRate{PerDay: perDay}
}

func (f FlatRate) Fine(daysLate int) decimal.Decimal {
	if daysLate <= 0 {
		return decimal.Zero
	}
	return f.PerDay.Mul(decimal.NewFromInt(int64(daysLate)))
}

// =============================================================================
// PROGRESSIVE
// =============================================================================

// Tier charges PerDay for up to Days days of delay. A Tier with Days == 0
// is open-ended and absorbs all remaining days.
type Tier struct {
	Days   int
	PerDay decimal.Decimal
}

// Progressive charges by brackets, cheapest first.
type Progressive struct {
	Tiers []Tier
}

// NewProgressive returns the standard escalating schedule.
func NewProgressive() Progressive {
	return Progressive{Tiers: []Tier{
		{Days: 7, PerDay: decimal.NewFromInt(3000)},
		{Days: 7, PerDay: decimal.NewFromInt(5000)},
		{Days: 16, PerDay: decimal.NewFromInt(7000)},
		{Days: 0, PerDay: decimal.NewFromInt(10000)},
	}}
}

func (p Progressive) Fine(daysLate int) decimal.Decimal {
	total := decimal.Zero
	remaining := daysLate

	for _, tier := range p.Tiers {
		if remaining <= 0 {
			break
		}
		days := remaining
		if tier.Days > 0 && days > tier.Days {
			days = tier.Days
		}
		total = total.Add(tier.PerDay.Mul(decimal.NewFromInt(int64(days))))
		remaining -= days
	}

	return total
}

// =============================================================================
// CAPPED
// =============================================================================

// Capped bounds another schedule's fine at a fixed ceiling. A zero or
// negative Max leaves the inner schedule unbounded.
type Capped struct {
	Inner FineSchedule
	Max   decimal.Decimal
}

func NewCapped(inner FineSchedule, max decimal.Decimal) Capped {
	return Capped{Inner: inner, Max: max}
}

func (c Capped) Fine(daysLate int) decimal.Decimal {
	fine := c.Inner.Fine(daysLate)
	if c.Max.IsPositive() && fine.GreaterThan(c.Max) {
		return c.Max
	}
	return fine
}
