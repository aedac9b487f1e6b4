// Package reporter 打印机器人的智能交易列表以及已完成交易的收益。
package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"smart-trade-bot-go/internal/executor"
	"smart-trade-bot-go/internal/models"
	"smart-trade-bot-go/internal/money"
)

// Repository 是报告所需的只读存储接口
type Repository interface {
	GetBot(id int64) (*models.Bot, error)
	ListSmartTrades(botID int64) ([]*models.SmartTrade, error)
}

// Row 报告中的一行, 对应一个智能交易
type Row struct {
	ID         int64
	Ref        string
	State      executor.State
	Entry      string // 入场腿价格, 多个以 / 分隔
	TakeProfit string // 止盈腿价格
	Quantity   decimal.Decimal
	Profit     decimal.Decimal // 仅已完成的交易有值
}

// Report 汇总单个机器人的交易情况
type Report struct {
	Bot       *models.Bot
	Rows      []Row
	Active    int
	Completed int
	Canceled  int
	Profit    decimal.Decimal // 已实现收益，以计价货币计
}

// Build 生成指定机器人的报告
func Build(repo Repository, botID int64) (*Report, error) {
	bot, err := repo.GetBot(botID)
	if err != nil {
		return nil, err
	}
	trades, err := repo.ListSmartTrades(botID)
	if err != nil {
		return nil, err
	}

	r := &Report{Bot: bot, Profit: decimal.Zero}
	for _, st := range trades {
		state := executor.StateOf(st)
		row := Row{
			ID:         st.ID,
			Ref:        st.Ref,
			State:      state,
			Entry:      prices(st.OrdersByRole(models.RoleEntry)),
			TakeProfit: prices(st.OrdersByRole(models.RoleTakeProfit)),
			Quantity:   quantity(st.OrdersByRole(models.RoleEntry)),
			Profit:     decimal.Zero,
		}
		switch state {
		case executor.StateCompleted:
			r.Completed++
			row.Profit = RealizedProfit(st)
			r.Profit = r.Profit.Add(row.Profit)
		case executor.StateCanceled:
			r.Canceled++
		default:
			r.Active++
		}
		r.Rows = append(r.Rows, row)
	}
	return r, nil
}

// CompletedSmartTrades 筛选所有订单腿均已成交的交易
func CompletedSmartTrades(trades []*models.SmartTrade) []*models.SmartTrade {
	var out []*models.SmartTrade
	for _, st := range trades {
		if executor.StateOf(st) == executor.StateCompleted {
			out = append(out, st)
		}
	}
	return out
}

// RealizedProfit 计算止盈卖出所得减去入场成本。
// 没有记录成交价的订单腿按限价计算。
func RealizedProfit(st *models.SmartTrade) decimal.Decimal {
	var bought, sold decimal.Decimal
	for _, o := range st.Orders {
		if o.Status != models.StatusFilled {
			continue
		}
		price := o.FilledPrice
		if price.IsZero() {
			price = o.Price
		}
		value := price.Mul(o.Quantity)
		if o.Side == models.Buy {
			bought = bought.Add(value)
		} else {
			sold = sold.Add(value)
		}
	}
	return sold.Sub(bought)
}

// Render 以表格形式输出报告
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s (#%d) %s", r.Bot.Name, r.Bot.ID, r.Bot.Symbol()))
	t.AppendHeader(table.Row{"ID", "Ref", "State", "Entry", "Take profit", "Quantity", "Profit"})
	for _, row := range r.Rows {
		profit := ""
		if row.State == executor.StateCompleted {
			profit = row.Profit.StringFixed(2)
		}
		t.AppendRow(table.Row{row.ID, row.Ref, row.State, row.Entry, row.TakeProfit, money.Format(row.Quantity), profit})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("active %d / done %d / canceled %d", r.Active, r.Completed, r.Canceled), "", "", "Total", r.Profit.StringFixed(2)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()
}

func prices(orders []models.Order) string {
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.Type == models.OrderTypeMarket && o.Price.IsZero() {
			parts = append(parts, "MKT")
			continue
		}
		parts = append(parts, money.Format(o.Price))
	}
	return strings.Join(parts, "/")
}

func quantity(orders []models.Order) decimal.Decimal {
	qty := make([]decimal.Decimal, len(orders))
	for i, o := range orders {
		qty[i] = o.Quantity
	}
	return money.Sum(qty...)
}
