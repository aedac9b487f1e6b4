package reporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/persistence"
	"smart-trade-bot-go/internal/smarttrade"
)

func seed(t *testing.T) (*persistence.BadgerRepository, *models.Bot) {
	t.Helper()
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bot := &models.Bot{Name: "grid-1", Template: "grid", BaseCurrency: "BTC", QuoteCurrency: "USDT"}
	require.NoError(t, repo.CreateBot(bot))

	tp := decimal.NewFromInt(110)
	for _, ref := range []string{"G1", "G2", "G3"} {
		p := smarttrade.NewOrder(decimal.NewFromInt(100), decimal.RequireFromString("0.5"), &tp)
		_, err := repo.CreateSmartTrade(smarttrade.NewRecord(ref, p, bot, time.Now()))
		require.NoError(t, err)
	}

	all, err := repo.ListSmartTrades(bot.ID)
	require.NoError(t, err)

	// G1 以更优的卖价完成，G2 已撤销，G3 仍在进行
	for i := range all[0].Orders {
		o := all[0].Orders[i]
		from := o.Version()
		o.Status = models.StatusFilled
		if o.Role == models.RoleTakeProfit {
			o.FilledPrice = decimal.NewFromInt(112)
		}
		require.NoError(t, repo.SaveOrder(all[0].ID, o, from))
	}
	for i := range all[1].Orders {
		o := all[1].Orders[i]
		from := o.Version()
		o.Status = models.StatusCanceled
		require.NoError(t, repo.SaveOrder(all[1].ID, o, from))
	}
	return repo, bot
}

func TestBuild(t *testing.T) {
	repo, bot := seed(t)

	r, err := Build(repo, bot.ID)
	require.NoError(t, err)
	require.Len(t, r.Rows, 3)
	assert.Equal(t, 1, r.Completed)
	assert.Equal(t, 1, r.Canceled)
	assert.Equal(t, 1, r.Active)
	// 0.5 * 112 - 0.5 * 100
	assert.Equal(t, "6", r.Profit.String())

	all, err := repo.ListSmartTrades(bot.ID)
	require.NoError(t, err)
	completed := CompletedSmartTrades(all)
	require.Len(t, completed, 1)
	assert.Equal(t, "G1", completed[0].Ref)
}

func TestRender(t *testing.T) {
	repo, bot := seed(t)
	r, err := Build(repo, bot.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	r.Render(&buf)
	out := buf.String()
	assert.Contains(t, out, "grid-1")
	assert.Contains(t, out, "BTC/USDT")
	assert.Contains(t, out, "Completed")
	assert.Contains(t, out, "6.00")
}

func TestBuildUnknownBot(t *testing.T) {
	repo, _ := seed(t)
	_, err := Build(repo, 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
