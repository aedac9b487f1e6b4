package persistence

import "smart-trade-bot-go/internal/models"

// Repository defines the persistence operations the engine needs.
// Lookups of missing entities fail with an error wrapping models.ErrNotFound
// so callers can tell "absent" apart from a storage failure.
type Repository interface {
	BotRepository
	AccountRepository
	SmartTradeRepository

	// Close gracefully closes the connection to the database.
	Close() error
}

// BotRepository stores bots and their processing flag.
type BotRepository interface {
	CreateBot(bot *models.Bot) error
	GetBot(id int64) (*models.Bot, error)
	FindBotByName(name string) (*models.Bot, error)
	ListBots() ([]*models.Bot, error)
	SetEnabled(id int64, enabled bool) error

	// AcquireProcessing sets the processing flag only if it is clear.
	// It fails with models.ErrBusy when another command holds the bot.
	AcquireProcessing(id int64) (*models.Bot, error)

	// ReleaseProcessing clears the processing flag and, when state is not
	// nil, stores it in the same transaction.
	ReleaseProcessing(id int64, state models.BotState) error
}

// AccountRepository stores exchange accounts.
type AccountRepository interface {
	CreateAccount(account *models.ExchangeAccount) error
	GetAccount(id int64) (*models.ExchangeAccount, error)
	FindAccountByLabel(label string) (*models.ExchangeAccount, error)
}

// SmartTradeRepository stores smart trades with their legs embedded.
type SmartTradeRepository interface {
	// CreateSmartTrade assigns ids to the trade and its legs. Any trade of
	// the same bot holding the same ref loses it in the same transaction.
	CreateSmartTrade(st *models.SmartTrade) (*models.SmartTrade, error)
	GetSmartTrade(id int64) (*models.SmartTrade, error)
	FindSmartTradeByRef(botID int64, ref string) (*models.SmartTrade, error)
	FindSmartTradeByOrderID(orderID int64) (*models.SmartTrade, error)
	ListSmartTrades(botID int64) ([]*models.SmartTrade, error)
	ListActiveSmartTrades(botID int64) ([]*models.SmartTrade, error)

	// AttachTakeProfit adds a take-profit leg to a trade without one and
	// switches its structure to Order/Order. If the trade already has a
	// take profit it is returned unchanged with attached=false.
	AttachTakeProfit(id int64, order models.Order) (st *models.SmartTrade, attached bool, err error)

	// SaveOrder overwrites one leg of a trade, but only while the stored leg
	// still has version from. A stale write fails with models.ErrConflict.
	SaveOrder(smartTradeID int64, order models.Order, from models.OrderVersion) error

	// ClientIDSalt returns the per-database prefix of client order ids.
	ClientIDSalt() (string, error)
}
