package grid

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"smart-trade-bot-go/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateInvestment(t *testing.T) {
	levels := []Level{
		{ // A: bought, sell waiting
			Buy:  Leg{Status: models.StatusFilled, Price: d("90"), Quantity: d("1.5")},
			Sell: Leg{Status: models.StatusIdle, Price: d("100"), Quantity: d("1.5")},
		},
		{ // B: untouched
			Buy:  Leg{Status: models.StatusIdle, Price: d("100"), Quantity: d("2")},
			Sell: Leg{Status: models.StatusIdle, Price: d("110"), Quantity: d("2")},
		},
	}
	inv := CalculateInvestment(levels)
	assert.True(t, inv.Base.Equal(d("1.5")), "base %s", inv.Base)
	assert.True(t, inv.Quote.Equal(d("200")), "quote %s", inv.Quote)
}

func TestCalculateInvestmentIgnoresActiveLevels(t *testing.T) {
	levels := []Level{
		// buy placed: counted nowhere
		{Buy: Leg{Status: models.StatusPlaced, Price: d("1"), Quantity: d("1")}, Sell: Leg{Status: models.StatusIdle, Quantity: d("1")}},
		// sell already placed after fill: counted nowhere
		{Buy: Leg{Status: models.StatusFilled, Price: d("1"), Quantity: d("1")}, Sell: Leg{Status: models.StatusPlaced, Quantity: d("1")}},
		// buy idle but sell not idle: not a fresh level
		{Buy: Leg{Status: models.StatusIdle, Price: d("3"), Quantity: d("3")}, Sell: Leg{Status: models.StatusCanceled, Quantity: d("3")}},
	}
	inv := CalculateInvestment(levels)
	assert.True(t, inv.Base.IsZero())
	assert.True(t, inv.Quote.IsZero())
}

func TestCalculateInvestmentEmptyAndExact(t *testing.T) {
	inv := CalculateInvestment(nil)
	assert.True(t, inv.Base.IsZero())
	assert.True(t, inv.Quote.IsZero())

	levels := []Level{
		{Buy: Leg{Status: models.StatusIdle, Price: d("0.1"), Quantity: d("1")}, Sell: Leg{Status: models.StatusIdle}},
		{Buy: Leg{Status: models.StatusIdle, Price: d("0.2"), Quantity: d("1")}, Sell: Leg{Status: models.StatusIdle}},
	}
	before := levels[0]
	inv = CalculateInvestment(levels)
	assert.Equal(t, "0.3", inv.Quote.String())
	assert.Equal(t, before, levels[0])
}
