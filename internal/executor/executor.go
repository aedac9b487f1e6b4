// Package executor drives the legs of one smart trade to match the exchange.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/models"
)

// State is the lifecycle position of a smart trade derived from its legs.
type State string

const (
	StateNoOrdersPlaced   State = "NoOrdersPlaced"
	StateEntryPlaced      State = "EntryPlaced"
	StateEntryFilled      State = "EntryFilled"
	StateTakeProfitPlaced State = "TakeProfitPlaced"
	StateCompleted        State = "Completed"
	StateCanceled         State = "Canceled"
)

// Repository is the slice of persistence the executor needs.
type Repository interface {
	GetSmartTrade(id int64) (*models.SmartTrade, error)
	GetAccount(id int64) (*models.ExchangeAccount, error)
	SaveOrder(smartTradeID int64, order models.Order, from models.OrderVersion) error
}

// ExchangeResolver returns the exchange an account trades on.
type ExchangeResolver interface {
	FromAccount(account *models.ExchangeAccount) (exchange.Exchange, error)
}

// Recorder receives executor events for metrics. A nil Recorder is allowed.
type Recorder interface {
	OrderPlaced(botID int64)
	OrderFilled(botID int64)
	OrderCanceled(botID int64)
	OrderRejected(botID int64)
}

// StopBotFunc disables a bot after an unrecoverable order rejection.
type StopBotFunc func(ctx context.Context, botID int64) error

// Executor places, syncs and cancels the legs of smart trades.
type Executor struct {
	repo      Repository
	exchanges ExchangeResolver
	stopBot   StopBotFunc
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
	salt      string
	locks     tradeLocks
}

// Option customises an Executor.
type Option func(*Executor)

// WithStopBot sets the hook invoked when an order is rejected.
func WithStopBot(fn StopBotFunc) Option {
	return func(e *Executor) { e.stopBot = fn }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithClientIDSalt sets the prefix of every client order id. Each database
// should use its own salt.
func WithClientIDSalt(salt string) Option {
	return func(e *Executor) { e.salt = salt }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor.
func New(repo Repository, exchanges ExchangeResolver, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		repo:      repo,
		exchanges: exchanges,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StateOf derives the lifecycle state from leg statuses.
func StateOf(st *models.SmartTrade) State {
	entries := countStatuses(st.OrdersByRole(models.RoleEntry))
	tps := countStatuses(st.OrdersByRole(models.RoleTakeProfit))

	switch {
	case entries.total == 0 || entries.idle == entries.total:
		return StateNoOrdersPlaced
	case entries.idle > 0 || entries.placed > 0:
		return StateEntryPlaced
	case entries.filled < entries.total:
		// at least one entry was cancelled or rejected: the take profit never goes out
		return StateCanceled
	}

	switch {
	case tps.total == 0 || tps.filled == tps.total:
		return StateCompleted
	case tps.placed > 0:
		return StateTakeProfitPlaced
	case tps.idle > 0:
		return StateEntryFilled
	}
	return StateCanceled
}

type statusCount struct {
	total, idle, placed, filled int
}

func countStatuses(orders []models.Order) statusCount {
	c := statusCount{total: len(orders)}
	for _, o := range orders {
		switch o.Status {
		case models.StatusIdle:
			c.idle++
		case models.StatusPlaced:
			c.placed++
		case models.StatusFilled:
			c.filled++
		}
	}
	return c
}

// ClientOrderID is the deterministic id sent to the exchange for a leg.
// It lets a leg whose submission outcome was lost be found again. The salt
// keeps ids from different databases on the same account apart.
func ClientOrderID(salt string, smartTradeID, orderID int64) string {
	id := "st" + string(base62.FormatInt(smartTradeID)) + "o" + string(base62.FormatInt(orderID))
	if salt == "" {
		return id
	}
	return salt + "_" + id
}

// tradeLocks serialises work on one smart trade within the process.
type tradeLocks struct {
	mu sync.Mutex
	m  map[int64]*tradeLock
}

type tradeLock struct {
	sync.Mutex
	refs int
}

func (l *tradeLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int64]*tradeLock)
	}
	tl, ok := l.m[id]
	if !ok {
		tl = &tradeLock{}
		l.m[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

type session struct {
	st  *models.SmartTrade
	ex  exchange.Exchange
	log *zap.Logger
}

func (e *Executor) open(smartTradeID int64) (*session, error) {
	st, err := e.repo.GetSmartTrade(smartTradeID)
	if err != nil {
		return nil, err
	}
	account, err := e.repo.GetAccount(st.ExchangeAccountID)
	if err != nil {
		return nil, fmt.Errorf("account of smart trade %d: %w", st.ID, err)
	}
	ex, err := e.exchanges.FromAccount(account)
	if err != nil {
		return nil, err
	}
	return &session{
		st: st,
		ex: ex,
		log: e.logger.With(
			zap.Int64("bot_id", st.BotID),
			zap.Int64("smart_trade_id", st.ID),
			zap.String("symbol", st.Symbol),
		),
	}, nil
}

// Next advances the smart trade by one step and returns its new state.
// Placed legs are synced, Idle entries are placed, and Idle take profits
// are placed once every entry is filled. A leg that left Idle is never
// submitted again. Calls for the same smart trade run one at a time.
func (e *Executor) Next(ctx context.Context, smartTradeID int64) (State, error) {
	unlock := e.locks.lock(smartTradeID)
	defer unlock()

	s, err := e.open(smartTradeID)
	if err != nil {
		return "", err
	}

	if err := e.syncPlaced(ctx, s); err != nil {
		return StateOf(s.st), err
	}

	if rejected, err := e.placeIdle(ctx, s, models.RoleEntry); err != nil || rejected {
		return StateOf(s.st), err
	}

	if allFilled(s.st.OrdersByRole(models.RoleEntry)) {
		if _, err := e.placeIdle(ctx, s, models.RoleTakeProfit); err != nil {
			return StateOf(s.st), err
		}
	}
	return StateOf(s.st), nil
}

func allFilled(orders []models.Order) bool {
	for _, o := range orders {
		if o.Status != models.StatusFilled {
			return false
		}
	}
	return len(orders) > 0
}

// syncPlaced refreshes every Placed leg from the exchange.
func (e *Executor) syncPlaced(ctx context.Context, s *session) error {
	var errs []error
	for i := range s.st.Orders {
		leg := &s.st.Orders[i]
		if leg.Status != models.StatusPlaced {
			continue
		}
		res, err := s.ex.GetOrder(ctx, s.st.Symbol, leg.ExchangeOrderID)
		if err != nil {
			errs = append(errs, fmt.Errorf("sync order %d: %w", leg.ID, err))
			continue
		}
		from := leg.Version()
		if changed := e.apply(leg, res); changed {
			if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
				errs = append(errs, err)
				continue
			}
			e.logTransition(s, leg)
		}
	}
	return errors.Join(errs...)
}

// apply copies the exchange status onto leg and reports whether it changed.
func (e *Executor) apply(leg *models.Order, res *exchange.OrderResult) bool {
	before := leg.Status
	if leg.ExchangeOrderID == "" {
		leg.ExchangeOrderID = res.ExchangeOrderID
	}
	switch res.Status {
	case exchange.ExecNew, exchange.ExecPartiallyFilled:
		leg.Status = models.StatusPlaced
		if leg.PlacedAt == nil {
			t := e.now()
			leg.PlacedAt = &t
		}
	case exchange.ExecFilled:
		leg.Status = models.StatusFilled
		leg.FilledPrice = res.FilledPrice
		t := e.now()
		if leg.PlacedAt == nil {
			leg.PlacedAt = &t
		}
		leg.FilledAt = &t
	case exchange.ExecCanceled, exchange.ExecExpired:
		leg.Status = models.StatusCanceled
	case exchange.ExecRejected:
		leg.Status = models.StatusRejected
	}
	return leg.Status != before
}

// placeIdle submits every Idle leg of role. It reports whether a leg was rejected.
func (e *Executor) placeIdle(ctx context.Context, s *session, role models.OrderRole) (bool, error) {
	for i := range s.st.Orders {
		leg := &s.st.Orders[i]
		if leg.Role != role || leg.Status != models.StatusIdle {
			continue
		}

		if leg.ClientOrderID != "" {
			// A previous attempt may have reached the exchange before we lost track of it.
			adopted, err := e.adopt(ctx, s, leg)
			if err != nil {
				return false, err
			}
			if adopted {
				continue
			}
		} else {
			from := leg.Version()
			leg.ClientOrderID = ClientOrderID(e.salt, s.st.ID, leg.ID)
			if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
				if errors.Is(err, models.ErrConflict) {
					s.log.Debug("Order claimed by another worker", zap.Int64("order_id", leg.ID))
					return false, nil
				}
				return false, err
			}
		}

		from := leg.Version()
		res, err := s.ex.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:        s.st.Symbol,
			Side:          leg.Side,
			Type:          leg.Type,
			Price:         leg.Price,
			Quantity:      leg.Quantity,
			ClientOrderID: leg.ClientOrderID,
		})
		if errors.Is(err, exchange.ErrOrderRejected) {
			// a duplicate client id is rejected too; the order may be live
			adopted, lookupErr := e.adopt(ctx, s, leg)
			if lookupErr != nil {
				return false, fmt.Errorf("place order %d: %w (lookup: %v)", leg.ID, err, lookupErr)
			}
			if adopted {
				continue
			}
			return true, e.reject(ctx, s, leg, from, err)
		}
		if err != nil {
			return false, fmt.Errorf("place order %d: %w", leg.ID, err)
		}

		e.apply(leg, res)
		if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
			return false, err
		}
		if e.recorder != nil {
			e.recorder.OrderPlaced(s.st.BotID)
		}
		e.logTransition(s, leg)
	}
	return false, nil
}

// adopt looks the leg up by its client order id and, when the exchange
// knows it, copies the exchange state onto the leg. A missing order is
// not an error.
func (e *Executor) adopt(ctx context.Context, s *session, leg *models.Order) (bool, error) {
	res, err := s.ex.GetOrderByClientID(ctx, s.st.Symbol, leg.ClientOrderID)
	if errors.Is(err, exchange.ErrOrderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recover order %d: %w", leg.ID, err)
	}
	from := leg.Version()
	e.apply(leg, res)
	if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
		return false, err
	}
	s.log.Info("Recovered order from exchange", zap.Int64("order_id", leg.ID), zap.String("status", string(leg.Status)))
	return true, nil
}

func (e *Executor) reject(ctx context.Context, s *session, leg *models.Order, from models.OrderVersion, cause error) error {
	leg.Status = models.StatusRejected
	if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
		return err
	}
	s.log.Error("Order rejected, stopping bot", zap.Int64("order_id", leg.ID), zap.Error(cause))
	if e.recorder != nil {
		e.recorder.OrderRejected(s.st.BotID)
	}
	if e.stopBot != nil {
		if err := e.stopBot(ctx, s.st.BotID); err != nil {
			s.log.Error("Failed to stop bot after rejection", zap.Error(err))
		}
	}
	return nil
}

func (e *Executor) logTransition(s *session, leg *models.Order) {
	s.log.Info("Order status changed",
		zap.Int64("order_id", leg.ID),
		zap.String("role", string(leg.Role)),
		zap.String("side", string(leg.Side)),
		zap.String("price", leg.Price.String()),
		zap.String("status", string(leg.Status)),
	)
	if leg.Status == models.StatusFilled && e.recorder != nil {
		e.recorder.OrderFilled(s.st.BotID)
	}
}
