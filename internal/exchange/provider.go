package exchange

import (
	"fmt"
	"sync"

	"smart-trade-bot-go/internal/models"
)

// Provider 为每个账户提供一个 Exchange 实例，首次使用时创建
type Provider struct {
	mu        sync.Mutex
	instances map[int64]Exchange
	paper     func() *PaperExchange
}

// NewProvider 创建 Provider。newPaper 用于构建 PAPER 账户使用的模拟交易所。
func NewProvider(newPaper func() *PaperExchange) *Provider {
	if newPaper == nil {
		newPaper = func() *PaperExchange { return NewPaperExchange() }
	}
	return &Provider{instances: make(map[int64]Exchange), paper: newPaper}
}

// FromAccount 返回账户绑定的交易所
func (p *Provider) FromAccount(account *models.ExchangeAccount) (Exchange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ex, ok := p.instances[account.ID]; ok {
		return ex, nil
	}

	var ex Exchange
	switch account.ExchangeCode {
	case models.ExchangePaper:
		ex = p.paper()
	case models.ExchangeBinance:
		ex = NewBinanceExchange(account.APIKey, account.SecretKey, account.IsTestnet)
	default:
		return nil, fmt.Errorf("exchange code %q of account %s: %w", account.ExchangeCode, account.Label, models.ErrUnsupportedStructure)
	}
	p.instances[account.ID] = ex
	return ex, nil
}

// Register 将已创建的交易所绑定到账户 ID
func (p *Provider) Register(accountID int64, ex Exchange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[accountID] = ex
}
