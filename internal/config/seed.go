package config

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"smart-trade-bot-go/internal/models"
)

// SeedRepository 是 Seed 写入的存储接口
type SeedRepository interface {
	CreateAccount(account *models.ExchangeAccount) error
	FindAccountByLabel(label string) (*models.ExchangeAccount, error)
	CreateBot(bot *models.Bot) error
	FindBotByName(name string) (*models.Bot, error)
}

// Seed 创建 cfg 中声明但尚不存在的账户和机器人，已有记录保持不变。
// 返回标记为启用但尚未运行的机器人 ID，由调用方负责启动。
func Seed(repo SeedRepository, cfg *models.Config, logger *zap.Logger) ([]int64, error) {
	for _, a := range cfg.Accounts {
		_, err := repo.FindAccountByLabel(a.Label)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		account := &models.ExchangeAccount{
			Label:        a.Label,
			ExchangeCode: models.ExchangeCode(strings.ToUpper(a.ExchangeCode)),
			APIKey:       a.APIKey,
			SecretKey:    a.SecretKey,
			IsTestnet:    a.IsTestnet,
		}
		if err := repo.CreateAccount(account); err != nil {
			return nil, err
		}
		logger.Info("Account seeded", zap.String("label", a.Label), zap.Int64("account_id", account.ID))
	}

	var toStart []int64
	for _, b := range cfg.Bots {
		existing, err := repo.FindBotByName(b.Name)
		if err == nil {
			if b.Enabled && !existing.Enabled {
				toStart = append(toStart, existing.ID)
			}
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		account, err := repo.FindAccountByLabel(b.AccountLabel)
		if err != nil {
			return nil, err
		}
		bot := &models.Bot{
			Name:              b.Name,
			Template:          b.Template,
			Timeframe:         b.Timeframe,
			Settings:          b.Settings,
			BaseCurrency:      strings.ToUpper(b.BaseCurrency),
			QuoteCurrency:     strings.ToUpper(b.QuoteCurrency),
			ExchangeAccountID: account.ID,
		}
		if err := repo.CreateBot(bot); err != nil {
			return nil, err
		}
		logger.Info("Bot seeded", zap.String("name", b.Name), zap.Int64("bot_id", bot.ID))
		if b.Enabled {
			toStart = append(toStart, bot.ID)
		}
	}
	return toStart, nil
}
