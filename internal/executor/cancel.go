package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smart-trade-bot-go/internal/exchange"
	"smart-trade-bot-go/internal/models"
)

// CancelReport lists the legs touched by CancelOrders.
type CancelReport struct {
	Canceled []int64
	Skipped  []int64
	Failed   []int64
}

// CancelOrders cancels every open leg of the smart trade. Idle legs are
// cancelled locally, Placed legs on the exchange. Failures are reported
// per leg; legs already cancelled stay cancelled.
func (e *Executor) CancelOrders(ctx context.Context, smartTradeID int64) (*CancelReport, error) {
	unlock := e.locks.lock(smartTradeID)
	defer unlock()

	s, err := e.open(smartTradeID)
	if err != nil {
		return nil, err
	}

	report := &CancelReport{}
	var errs []error

	for i := range s.st.Orders {
		leg := &s.st.Orders[i]
		from := leg.Version()
		switch leg.Status {
		case models.StatusIdle:
			if leg.ClientOrderID != "" {
				// the submission may have landed; treat it like a placed order
				res, err := s.ex.GetOrderByClientID(ctx, s.st.Symbol, leg.ClientOrderID)
				switch {
				case err == nil:
					e.apply(leg, res)
					if leg.Status == models.StatusPlaced {
						e.cancelPlaced(ctx, s, leg, from, report, &errs)
						continue
					}
					if saveErr := e.repo.SaveOrder(s.st.ID, *leg, from); saveErr != nil {
						report.Failed = append(report.Failed, leg.ID)
						errs = append(errs, saveErr)
						continue
					}
					report.Skipped = append(report.Skipped, leg.ID)
					continue
				case !errors.Is(err, exchange.ErrOrderNotFound):
					// unknown outcome: the order may be live, so it is not cancelled locally
					report.Failed = append(report.Failed, leg.ID)
					errs = append(errs, fmt.Errorf("look up order %d: %w", leg.ID, err))
					continue
				}
			}
			leg.Status = models.StatusCanceled
			if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
				report.Failed = append(report.Failed, leg.ID)
				errs = append(errs, err)
				continue
			}
			report.Canceled = append(report.Canceled, leg.ID)

		case models.StatusPlaced:
			e.cancelPlaced(ctx, s, leg, from, report, &errs)

		default:
			report.Skipped = append(report.Skipped, leg.ID)
		}
	}

	if len(errs) > 0 {
		s.log.Warn("Smart trade partially cancelled",
			zap.Int64s("canceled", report.Canceled),
			zap.Int64s("failed", report.Failed),
		)
		return report, fmt.Errorf("cancel smart trade %d: %w", smartTradeID, errors.Join(errs...))
	}
	s.log.Info("Smart trade cancelled", zap.Int64s("canceled", report.Canceled), zap.Int64s("skipped", report.Skipped))
	return report, nil
}

// cancelPlaced cancels a live leg. from is the version stored before any
// local change to leg.
func (e *Executor) cancelPlaced(ctx context.Context, s *session, leg *models.Order, from models.OrderVersion, report *CancelReport, errs *[]error) {
	cancelErr := s.ex.CancelOrder(ctx, s.st.Symbol, leg.ExchangeOrderID)
	if cancelErr == nil {
		leg.Status = models.StatusCanceled
		if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
			report.Failed = append(report.Failed, leg.ID)
			*errs = append(*errs, err)
			return
		}
		if e.recorder != nil {
			e.recorder.OrderCanceled(s.st.BotID)
		}
		report.Canceled = append(report.Canceled, leg.ID)
		return
	}

	// The order may have filled or been cancelled in the meantime.
	res, err := s.ex.GetOrder(ctx, s.st.Symbol, leg.ExchangeOrderID)
	if err == nil && res.Status != exchange.ExecNew && res.Status != exchange.ExecPartiallyFilled {
		e.apply(leg, res)
		if err := e.repo.SaveOrder(s.st.ID, *leg, from); err != nil {
			report.Failed = append(report.Failed, leg.ID)
			*errs = append(*errs, err)
			return
		}
		if leg.Status == models.StatusCanceled {
			report.Canceled = append(report.Canceled, leg.ID)
		} else {
			report.Skipped = append(report.Skipped, leg.ID)
		}
		return
	}

	report.Failed = append(report.Failed, leg.ID)
	*errs = append(*errs, fmt.Errorf("cancel order %d: %w", leg.ID, cancelErr))
}
