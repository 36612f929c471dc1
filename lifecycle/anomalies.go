package lifecycle

import (
	"context"
	"fmt"
	"math"

	"github.com/meinhoongagan/service-marketplace/models"
	"golang.org/x/sync/errgroup"
)

const (
	AnomalyMissingPayment    = "missing_payment"
	AnomalyPaymentTotal      = "payment_total_mismatch"
	AnomalyStalledOperation  = "stalled_operation"
	AnomalyDanglingReference = "dangling_reference"
)

// Anomaly is an inconsistency found by Anomalies.
type Anomaly struct {
	Kind       string `json:"kind"`
	Collection string `json:"collection"`
	RecordID   int64  `json:"record_id"`
	Detail     string `json:"detail"`
}

// Anomalies reports bookings without a payment that no pending operation
// will create, payments whose total does not add up, pending operations that
// are not running and foreign keys that point at deleted records.
func (m *Manager) Anomalies(ctx context.Context) ([]Anomaly, error) {
	var (
		bookings []models.Booking
		payments []models.Payment
		ops      []models.Operation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		bookings, err = m.tables.Bookings.All(gctx)
		return err
	})
	g.Go(func() (err error) {
		payments, err = m.tables.Payments.All(gctx)
		return err
	})
	g.Go(func() (err error) {
		ops, err = m.tables.Operations.FindBy(gctx, "status", models.OperationPending)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paid := make(map[int64]bool, len(payments))
	var out []Anomaly
	for _, p := range payments {
		paid[p.BookingID] = true
		if math.Abs(models.Round2(p.PaymentAmount+p.PlatformFee)-p.TotalAmount) > 0.005 {
			out = append(out, Anomaly{
				Kind:       AnomalyPaymentTotal,
				Collection: models.PaymentsCollection,
				RecordID:   p.ID,
				Detail:     fmt.Sprintf("%.2f + %.2f != %.2f", p.PaymentAmount, p.PlatformFee, p.TotalAmount),
			})
		}
	}

	repairing := map[int64]bool{}
	for _, op := range ops {
		if op.BookingID != 0 {
			repairing[op.BookingID] = true
		}
		if _, busy := m.inflight.Load(op.Token); busy {
			continue
		}
		out = append(out, Anomaly{
			Kind:       AnomalyStalledOperation,
			Collection: models.OperationLogCollection,
			RecordID:   op.ID,
			Detail:     fmt.Sprintf("%s %s done=%v last_error=%q", op.Kind, op.Token, op.Done, op.LastError),
		})
	}

	for _, b := range bookings {
		if paid[b.ID] || repairing[b.ID] {
			continue
		}
		out = append(out, Anomaly{
			Kind:       AnomalyMissingPayment,
			Collection: models.BookingsCollection,
			RecordID:   b.ID,
			Detail:     fmt.Sprintf("booking is %s and has no payment", b.BookingStatus),
		})
	}

	dangling, err := m.tables.Store.DanglingReferences(ctx, models.Schema)
	if err != nil {
		return nil, err
	}
	for _, d := range dangling {
		out = append(out, Anomaly{
			Kind:       AnomalyDanglingReference,
			Collection: d.Collection,
			RecordID:   d.RecordID,
			Detail:     d.String(),
		})
	}
	return out, nil
}
