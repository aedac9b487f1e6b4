package persistence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-trade-bot-go/internal/models"
)

func newTestRepo(t *testing.T) *BadgerRepository {
	t.Helper()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	repo, err := NewInMemoryRepository(WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestTrade(botID int64, ref string) *models.SmartTrade {
	return &models.SmartTrade{
		Ref:            ref,
		Type:           models.SmartTradeTypeTrade,
		EntryType:      models.EntryTypeOrder,
		TakeProfitType: models.TakeProfitTypeNone,
		BotID:          botID,
		Symbol:         "BTC/USDT",
		Orders: []models.Order{{
			Role: models.RoleEntry, Side: models.Buy, Type: models.OrderTypeLimit,
			Status: models.StatusIdle, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
		}},
	}
}

func TestBotLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	bot := &models.Bot{Name: "grid-1", Template: "grid", BaseCurrency: "BTC", QuoteCurrency: "USDT"}
	require.NoError(t, repo.CreateBot(bot))
	assert.Equal(t, int64(1), bot.ID)

	err := repo.CreateBot(&models.Bot{Name: "grid-1"})
	assert.True(t, errors.Is(err, models.ErrConflict))

	loaded, err := repo.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "grid-1", loaded.Name)
	assert.False(t, loaded.Enabled)

	byName, err := repo.FindBotByName("grid-1")
	require.NoError(t, err)
	assert.Equal(t, bot.ID, byName.ID)

	require.NoError(t, repo.SetEnabled(bot.ID, true))
	loaded, err = repo.GetBot(bot.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Enabled)

	_, err = repo.GetBot(42)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	bots, err := repo.ListBots()
	require.NoError(t, err)
	assert.Len(t, bots, 1)
}

func TestAcquireProcessingIsExclusive(t *testing.T) {
	repo := newTestRepo(t)
	bot := &models.Bot{Name: "b"}
	require.NoError(t, repo.CreateBot(bot))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
		busy     int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AcquireProcessing(bot.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				acquired++
			case errors.Is(err, models.ErrBusy):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 9, busy)

	require.NoError(t, repo.ReleaseProcessing(bot.ID, models.BotState{"k": "v"}))
	loaded, err := repo.GetBot(bot.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Processing)
	assert.Equal(t, "v", loaded.State["k"])

	// nil state keeps what is stored.
	_, err = repo.AcquireProcessing(bot.ID)
	require.NoError(t, err)
	require.NoError(t, repo.ReleaseProcessing(bot.ID, nil))
	loaded, err = repo.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", loaded.State["k"])
}

func TestAccounts(t *testing.T) {
	repo := newTestRepo(t)
	acc := &models.ExchangeAccount{Label: "paper", ExchangeCode: models.ExchangePaper}
	require.NoError(t, repo.CreateAccount(acc))

	found, err := repo.FindAccountByLabel("paper")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)

	_, err = repo.FindAccountByLabel("missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = repo.CreateAccount(&models.ExchangeAccount{Label: "paper"})
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestCreateSmartTradeReleasesRef(t *testing.T) {
	repo := newTestRepo(t)

	first, err := repo.CreateSmartTrade(newTestTrade(1, "G1"))
	require.NoError(t, err)
	require.Len(t, first.Orders, 1)
	assert.NotZero(t, first.Orders[0].ID)

	second, err := repo.CreateSmartTrade(newTestTrade(1, "G1"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	holder, err := repo.FindSmartTradeByRef(1, "G1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, holder.ID)

	old, err := repo.GetSmartTrade(first.ID)
	require.NoError(t, err)
	assert.Empty(t, old.Ref)

	// Another bot's ref is independent.
	_, err = repo.CreateSmartTrade(newTestTrade(2, "G1"))
	require.NoError(t, err)
	holder, err = repo.FindSmartTradeByRef(1, "G1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, holder.ID)

	all, err := repo.ListSmartTrades(1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	owner, err := repo.FindSmartTradeByOrderID(second.Orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, owner.ID)
}

func TestAttachTakeProfitIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	st, err := repo.CreateSmartTrade(newTestTrade(1, "A"))
	require.NoError(t, err)

	tp := models.Order{Side: models.Sell, Type: models.OrderTypeLimit, Status: models.StatusIdle,
		Price: decimal.NewFromInt(110), Quantity: decimal.NewFromInt(1)}

	updated, attached, err := repo.AttachTakeProfit(st.ID, tp)
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, models.TakeProfitTypeOrder, updated.TakeProfitType)
	assert.Len(t, updated.Orders, 2)

	again, attached, err := repo.AttachTakeProfit(st.ID, tp)
	require.NoError(t, err)
	assert.False(t, attached)
	assert.Len(t, again.Orders, 2)

	_, _, err = repo.AttachTakeProfit(999, tp)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSaveOrderAndActiveListing(t *testing.T) {
	repo := newTestRepo(t)
	st, err := repo.CreateSmartTrade(newTestTrade(1, "A"))
	require.NoError(t, err)

	active, err := repo.ListActiveSmartTrades(1)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	leg := st.Orders[0]
	from := leg.Version()
	leg.Status = models.StatusFilled
	require.NoError(t, repo.SaveOrder(st.ID, leg, from))

	active, err = repo.ListActiveSmartTrades(1)
	require.NoError(t, err)
	assert.Empty(t, active)

	err = repo.SaveOrder(st.ID, models.Order{ID: 12345}, models.OrderVersion{})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSaveOrderRejectsStaleVersion(t *testing.T) {
	repo := newTestRepo(t)
	st, err := repo.CreateSmartTrade(newTestTrade(1, "A"))
	require.NoError(t, err)

	idle := st.Orders[0]
	claimed := idle
	claimed.ClientOrderID = "abc_st1o1"
	require.NoError(t, repo.SaveOrder(st.ID, claimed, idle.Version()))

	// a second writer that read the leg before the claim loses
	other := idle
	other.ClientOrderID = "abc_st1o1"
	err = repo.SaveOrder(st.ID, other, idle.Version())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConflict))

	placed := claimed
	placed.Status = models.StatusPlaced
	require.NoError(t, repo.SaveOrder(st.ID, placed, claimed.Version()))

	// a late writer still holding the Idle copy cannot downgrade the leg
	rejected := claimed
	rejected.Status = models.StatusRejected
	err = repo.SaveOrder(st.ID, rejected, claimed.Version())
	assert.True(t, errors.Is(err, models.ErrConflict))

	stored, err := repo.GetSmartTrade(st.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaced, stored.Order(idle.ID).Status)
}

func TestClientIDSaltIsStable(t *testing.T) {
	repo := newTestRepo(t)
	salt, err := repo.ClientIDSalt()
	require.NoError(t, err)
	assert.NotEmpty(t, salt)

	again, err := repo.ClientIDSalt()
	require.NoError(t, err)
	assert.Equal(t, salt, again)
}
