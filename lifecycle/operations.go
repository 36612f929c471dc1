package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/meinhoongagan/service-marketplace/apperrors"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"go.uber.org/zap"
)

// Step names recorded in Operation.Done.
const (
	stepBooking         = "booking"
	stepPayment         = "payment"
	stepNotifyProvider  = "notify_provider"
	stepNotifyRequester = "notify_requester"
	stepActivityLog     = "activity_log"
)

var errInterrupted = errors.New("interrupted before its first step was applied")

type step struct {
	name string
	run  func(ctx context.Context, op models.Operation) error
}

// firstStep is the step that carries the guarded state change of kind.
func firstStep(kind models.OperationKind) string {
	if kind == models.OpConfirmPayment {
		return stepPayment
	}
	return stepBooking
}

// followUps lists, in order, the idempotent steps that run after the first.
func (m *Manager) followUps(kind models.OperationKind) []step {
	switch kind {
	case models.OpCreateBooking:
		return []step{
			{stepPayment, m.createPayment},
			m.notifyStep(stepNotifyProvider, toProvider, func(op models.Operation, _ models.Booking) string {
				return fmt.Sprintf("New booking request from %s for %s", op.Payload.ActorName, op.Payload.ServiceName)
			}),
		}
	case models.OpAcceptBooking:
		return []step{
			m.notifyStep(stepNotifyRequester, toRequester, func(op models.Operation, _ models.Booking) string {
				return fmt.Sprintf("Your booking for %s has been accepted by %s", op.Payload.ServiceName, op.Payload.ActorName)
			}),
		}
	case models.OpRejectBooking:
		return []step{
			m.notifyStep(stepNotifyRequester, toRequester, func(op models.Operation, _ models.Booking) string {
				return fmt.Sprintf("Your booking for %s has been rejected by %s", op.Payload.ServiceName, op.Payload.ActorName)
			}),
		}
	case models.OpCancelBooking:
		return []step{
			m.notifyStep(stepNotifyProvider, toProvider, func(op models.Operation, b models.Booking) string {
				return fmt.Sprintf("Booking #%d for %s has been cancelled by %s", b.ID, op.Payload.ServiceName, op.Payload.ActorName)
			}),
		}
	case models.OpConfirmPayment:
		return []step{
			m.notifyStep(stepNotifyProvider, toProvider, func(op models.Operation, _ models.Booking) string {
				return fmt.Sprintf("New paid booking request from %s", op.Payload.ActorName)
			}),
			m.notifyStep(stepNotifyRequester, toRequester, func(op models.Operation, _ models.Booking) string {
				return fmt.Sprintf("Your payment for %s has been confirmed!", op.Payload.ServiceName)
			}),
		}
	case models.OpCompleteBooking:
		return []step{
			{stepPayment, m.settlePayment},
			m.notifyStep(stepNotifyRequester, toRequester, func(op models.Operation, _ models.Booking) string {
				return fmt.Sprintf("Your booking for %s has been completed by %s. Please leave a review!", op.Payload.ServiceName, op.Payload.ActorName)
			}),
		}
	case models.OpAdminCancelBooking:
		return []step{
			{stepPayment, m.refundPayment},
			m.notifyStep(stepNotifyRequester, toRequester, func(_ models.Operation, b models.Booking) string {
				return fmt.Sprintf("Your booking #%d has been cancelled by admin.", b.ID)
			}),
			m.activityStep(models.ActionBookingCancel),
		}
	case models.OpAdminCompleteBooking:
		return []step{
			m.notifyStep(stepNotifyRequester, toRequester, func(_ models.Operation, b models.Booking) string {
				return fmt.Sprintf("Your booking #%d has been marked as completed by admin.", b.ID)
			}),
			m.activityStep(models.ActionBookingComplete),
		}
	}
	return nil
}

func toProvider(b models.Booking) int64  { return b.ProviderID }
func toRequester(b models.Booking) int64 { return b.UserID }

func (m *Manager) notifyStep(name string, to func(models.Booking) int64, text func(models.Operation, models.Booking) string) step {
	return step{name: name, run: func(ctx context.Context, op models.Operation) error {
		b, err := m.tables.Bookings.Get(ctx, op.BookingID)
		if err != nil {
			return err
		}
		_, err = m.notifier.Notify(ctx, notify.Message{
			UserID:    to(b),
			BookingID: b.ID,
			Text:      text(op, b),
			DedupeKey: op.Token + ":" + name,
		})
		return err
	}}
}

func (m *Manager) activityStep(action string) step {
	return step{name: stepActivityLog, run: func(ctx context.Context, op models.Operation) error {
		_, err := m.tables.ActivityLog.Insert(ctx, models.ActivityLog{
			AdminID:        op.ActorID,
			ActionType:     action,
			TargetType:     "booking",
			TargetID:       op.BookingID,
			Details:        op.Payload.Reason,
			Timestamp:      m.now().UTC(),
			OperationToken: op.Token,
		})
		if errors.Is(err, apperrors.ErrDuplicateValue) {
			return nil
		}
		return err
	}}
}

func (m *Manager) createPayment(ctx context.Context, op models.Operation) error {
	if _, ok, err := m.tables.Payments.FirstBy(ctx, "booking_id", op.BookingID); err != nil || ok {
		return err
	}
	p := models.NewPayment(op.BookingID, op.Payload.PaymentMethod, op.Payload.PaymentAmount, op.Payload.FeePercentage)
	p.CreatedAt = m.now().UTC()
	p.OperationToken = op.Token
	_, err := m.tables.Payments.Insert(ctx, p)
	if errors.Is(err, apperrors.ErrDuplicateValue) {
		return nil
	}
	return err
}

func (m *Manager) settlePayment(ctx context.Context, op models.Operation) error {
	p, ok, err := m.tables.Payments.FirstBy(ctx, "booking_id", op.BookingID)
	if err != nil || !ok {
		return err
	}
	_, err = m.tables.Payments.Modify(ctx, p.ID, func(p *models.Payment) error {
		if p.PaymentStatus == models.PaymentRefunded {
			m.log.Warn("completed booking has a refunded payment",
				zap.Int64("booking_id", op.BookingID), zap.Int64("payment_id", p.ID))
			return nil
		}
		next, err := p.PaymentStatus.Settle()
		if err != nil {
			return err
		}
		p.PaymentStatus = next
		m.stampPayment(p, op.Token)
		return nil
	})
	return err
}

func (m *Manager) refundPayment(ctx context.Context, op models.Operation) error {
	p, ok, err := m.tables.Payments.FirstBy(ctx, "booking_id", op.BookingID)
	if err != nil || !ok {
		return err
	}
	_, err = m.tables.Payments.Modify(ctx, p.ID, func(p *models.Payment) error {
		next, err := p.PaymentStatus.Refund()
		if err != nil {
			return err
		}
		p.PaymentStatus = next
		p.OperationToken = op.Token
		return nil
	})
	return err
}

func (m *Manager) stampPayment(p *models.Payment, token string) {
	if p.PaymentDate == nil {
		now := m.now().UTC()
		p.PaymentDate = &now
	}
	if p.TransactionID == "" {
		p.TransactionID = m.txnID()
	}
	p.OperationToken = token
}

// begin writes the operation to the log before anything else happens.
func (m *Manager) begin(ctx context.Context, kind models.OperationKind, actor Actor, bookingID int64, payload models.OperationPayload) (models.Operation, error) {
	now := m.now().UTC()
	op := models.Operation{
		Token:     m.token(),
		Kind:      kind,
		Status:    models.OperationPending,
		BookingID: bookingID,
		ActorID:   actor.ID,
		Done:      []string{},
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.inflight.Store(op.Token, struct{}{})
	stored, err := m.tables.Operations.Insert(ctx, op)
	if err != nil {
		m.inflight.Delete(op.Token)
		return models.Operation{}, err
	}
	return stored, nil
}

// execute applies the first step, records it, then runs the follow-ups. A
// failed first step fails the operation; a failed follow-up leaves it
// pending for settlement.
func (m *Manager) execute(ctx context.Context, op *models.Operation, first func(ctx context.Context) (int64, error)) error {
	defer m.inflight.Delete(op.Token)

	bookingID, err := first(ctx)
	if err != nil {
		m.finish(ctx, op, models.OperationFailed, err)
		return err
	}
	if err := m.markDone(ctx, op, firstStep(op.Kind), bookingID); err != nil {
		return err
	}
	return m.resume(ctx, op)
}

func (m *Manager) resume(ctx context.Context, op *models.Operation) error {
	for _, s := range m.followUps(op.Kind) {
		if op.HasDone(s.name) {
			continue
		}
		if err := s.run(ctx, *op); err != nil {
			m.log.Warn("operation step failed",
				zap.String("token", op.Token),
				zap.String("kind", string(op.Kind)),
				zap.String("step", s.name),
				zap.Int64("booking_id", op.BookingID),
				zap.Error(err),
			)
			m.recordError(ctx, op, err)
			return fmt.Errorf("%s step %s: %w", op.Kind, s.name, err)
		}
		if err := m.markDone(ctx, op, s.name, 0); err != nil {
			return err
		}
	}
	m.finish(ctx, op, models.OperationCompleted, nil)
	return nil
}

func (m *Manager) markDone(ctx context.Context, op *models.Operation, name string, bookingID int64) error {
	updated, err := m.tables.Operations.Modify(ctx, op.ID, func(o *models.Operation) error {
		if !o.HasDone(name) {
			o.Done = append(o.Done, name)
		}
		if bookingID != 0 {
			o.BookingID = bookingID
		}
		o.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		m.log.Error("failed to record operation step",
			zap.String("token", op.Token), zap.String("step", name), zap.Error(err))
		return err
	}
	*op = updated
	return nil
}

func (m *Manager) recordError(ctx context.Context, op *models.Operation, cause error) {
	updated, err := m.tables.Operations.Modify(ctx, op.ID, func(o *models.Operation) error {
		o.Attempts++
		o.LastError = cause.Error()
		o.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		m.log.Error("failed to record operation error", zap.String("token", op.Token), zap.Error(err))
		return
	}
	*op = updated
}

func (m *Manager) finish(ctx context.Context, op *models.Operation, status models.OperationStatus, cause error) {
	updated, err := m.tables.Operations.Modify(ctx, op.ID, func(o *models.Operation) error {
		o.Status = status
		o.Attempts++
		o.LastError = ""
		if cause != nil {
			o.LastError = cause.Error()
		}
		o.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		m.log.Error("failed to finish operation",
			zap.String("token", op.Token), zap.String("status", string(status)), zap.Error(err))
		return
	}
	*op = updated
}

// recoverFirstStep decides whether an operation interrupted before it
// recorded its first step had in fact applied it.
func (m *Manager) recoverFirstStep(ctx context.Context, op *models.Operation) (bool, error) {
	switch op.Kind {
	case models.OpCreateBooking:
		b, ok, err := m.tables.Bookings.FirstBy(ctx, "operation_token", op.Token)
		if err != nil || !ok {
			return false, err
		}
		return true, m.markDone(ctx, op, stepBooking, b.ID)
	case models.OpConfirmPayment:
		_, ok, err := m.tables.Payments.FirstBy(ctx, "operation_token", op.Token)
		if err != nil || !ok {
			return false, err
		}
		return true, m.markDone(ctx, op, stepPayment, 0)
	default:
		b, err := m.tables.Bookings.Get(ctx, op.BookingID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if b.OperationToken != op.Token {
			return false, nil
		}
		return true, m.markDone(ctx, op, stepBooking, 0)
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeFailed
)

// settleOp finishes one pending operation that no goroutine of this process
// is executing.
func (m *Manager) settleOp(ctx context.Context, id int64, token string) (outcome, error) {
	if _, busy := m.inflight.Load(token); busy {
		return outcomeSkipped, nil
	}
	op, err := m.tables.Operations.Get(ctx, id)
	if err != nil {
		return outcomeSkipped, err
	}
	if op.Status != models.OperationPending {
		return outcomeSkipped, nil
	}

	if !op.HasDone(firstStep(op.Kind)) {
		applied, err := m.recoverFirstStep(ctx, &op)
		if err != nil {
			return outcomeSkipped, err
		}
		if !applied {
			m.finish(ctx, &op, models.OperationFailed, errInterrupted)
			return outcomeFailed, nil
		}
	}
	if err := m.resume(ctx, &op); err != nil {
		return outcomeSkipped, err
	}
	m.log.Info("operation settled",
		zap.String("token", op.Token),
		zap.String("kind", string(op.Kind)),
		zap.Int64("booking_id", op.BookingID),
	)
	return outcomeCompleted, nil
}

// settleBookingLocked finishes the pending operations of one booking. The
// caller holds the booking's lock. Failures are logged; the booking stays
// readable.
func (m *Manager) settleBookingLocked(ctx context.Context, bookingID int64) {
	ops, err := m.tables.Operations.FindBy(ctx, "booking_id", bookingID)
	if err != nil {
		m.log.Warn("failed to load operations", zap.Int64("booking_id", bookingID), zap.Error(err))
		return
	}
	for _, op := range ops {
		if op.Status != models.OperationPending {
			continue
		}
		if _, err := m.settleOp(ctx, op.ID, op.Token); err != nil {
			m.log.Warn("failed to settle operation",
				zap.String("token", op.Token), zap.Int64("booking_id", bookingID), zap.Error(err))
		}
	}
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Reconcile finishes every pending operation in the log.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	ops, err := m.tables.Operations.FindBy(ctx, "status", models.OperationPending)
	if err != nil {
		return report, err
	}
	report.Pending = len(ops)

	var errs []error
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		unlock := func() {}
		if op.BookingID != 0 {
			unlock = m.lockBooking(op.BookingID)
		}
		result, err := m.settleOp(ctx, op.ID, op.Token)
		unlock()

		switch {
		case err != nil:
			report.Errors++
			errs = append(errs, fmt.Errorf("operation %s: %w", op.Token, err))
		case result == outcomeCompleted:
			report.Completed++
		case result == outcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	if report.Pending > 0 {
		m.log.Info("reconciliation finished",
			zap.Int("pending", report.Pending),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Int("errors", report.Errors),
		)
	}
	return report, errors.Join(errs...)
}
