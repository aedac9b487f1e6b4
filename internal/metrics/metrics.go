// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine updates. It satisfies the
// recorder interfaces of the dispatcher, executor and store packages.
type Metrics struct {
	Commands       *prometheus.CounterVec
	BusySkips      *prometheus.CounterVec
	CommandErrors  *prometheus.CounterVec
	OrdersPlaced   *prometheus.CounterVec
	OrdersFilled   *prometheus.CounterVec
	OrdersCanceled *prometheus.CounterVec
	OrdersRejected *prometheus.CounterVec
	TradesCreated  *prometheus.CounterVec
	Triggers       *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Commands run per bot and command",
		}, []string{"bot_id", "command"}),
		BusySkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_busy_skips_total",
			Help: "Commands dropped because the bot was already processing",
		}, []string{"bot_id"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_command_errors_total",
			Help: "Commands whose strategy callback failed",
		}, []string{"bot_id", "command"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_placed_total",
			Help: "Orders submitted to the exchange",
		}, []string{"bot_id"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_filled_total",
			Help: "Orders observed as filled",
		}, []string{"bot_id"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_canceled_total",
			Help: "Orders cancelled on the exchange",
		}, []string{"bot_id"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_rejected_total",
			Help: "Orders rejected by the exchange",
		}, []string{"bot_id"}),
		TradesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_smart_trades_created_total",
			Help: "Smart trades created by strategies",
		}, []string{"bot_id"}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trigger_events_total",
			Help: "Trigger events handled per kind",
		}, []string{"kind"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Commands, m.BusySkips, m.CommandErrors,
		m.OrdersPlaced, m.OrdersFilled, m.OrdersCanceled, m.OrdersRejected,
		m.TradesCreated, m.Triggers,
	)
	return m
}

func id(botID int64) string { return strconv.FormatInt(botID, 10) }

func (m *Metrics) CommandRun(botID int64, command string) {
	m.Commands.WithLabelValues(id(botID), command).Inc()
}
func (m *Metrics) CommandFailed(botID int64, command string) {
	m.CommandErrors.WithLabelValues(id(botID), command).Inc()
}
func (m *Metrics) BusySkipped(botID int64)       { m.BusySkips.WithLabelValues(id(botID)).Inc() }
func (m *Metrics) OrderPlaced(botID int64)       { m.OrdersPlaced.WithLabelValues(id(botID)).Inc() }
func (m *Metrics) OrderFilled(botID int64)       { m.OrdersFilled.WithLabelValues(id(botID)).Inc() }
func (m *Metrics) OrderCanceled(botID int64)     { m.OrdersCanceled.WithLabelValues(id(botID)).Inc() }
func (m *Metrics) OrderRejected(botID int64)     { m.OrdersRejected.WithLabelValues(id(botID)).Inc() }
func (m *Metrics) SmartTradeCreated(botID int64) { m.TradesCreated.WithLabelValues(id(botID)).Inc() }
func (m *Metrics) TriggerHandled(kind string)    { m.Triggers.WithLabelValues(kind).Inc() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
