// workers/payment_status_worker.go
package workers

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"savegame-system/models"
	"savegame-system/services"

	"gorm.io/gorm"
)

// STKStatusQuerier asks the payment provider about an earlier STK push.
type STKStatusQuerier interface {
	QuerySTKPush(ctx context.Context, checkoutRequestID string) (*services.STKQueryResult, error)
}

// PaymentStatusWorker settles payment requests whose callback never arrived:
// the push is queried and requests the customer cancelled or that timed out
// are marked failed.
type PaymentStatusWorker struct {
	db         *gorm.DB
	querier    STKStatusQuerier
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewPaymentStatusWorker(db *gorm.DB, querier STKStatusQuerier, interval time.Duration) *PaymentStatusWorker {
	return &PaymentStatusWorker{
		db:         db,
		querier:    querier,
		interval:   interval,
		staleAfter: 5 * time.Minute,
		now:        time.Now,
	}
}

func (w *PaymentStatusWorker) Start(ctx context.Context) {
	slog.Info("🔁 starting payment status worker", "interval", w.interval.String())
	go w.run(ctx)
}

func (w *PaymentStatusWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.checkBatch(ctx); err != nil {
				slog.Error("❌ payment status batch failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("⏹️ payment status worker stopped")
			return
		}
	}
}

// checkBatch queries stale pending requests and returns how many were settled as failed.
func (w *PaymentStatusWorker) checkBatch(ctx context.Context) (int, error) {
	var stale []models.PaymentRequest
	cutoff := w.now().UTC().Add(-w.staleAfter)
	if err := w.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentRequestPending, cutoff).
		Order("created_at ASC").
		Limit(50).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	settled := 0
	for _, pr := range stale {
		res, err := w.querier.QuerySTKPush(ctx, pr.CheckoutRequestID)
		if err != nil {
			slog.Warn("STK status query failed", "checkout_request_id", pr.CheckoutRequestID, "error", err)
			continue
		}
		if res.ResultCode == "" {
			continue // still being processed by the provider
		}
		code, err := strconv.Atoi(res.ResultCode)
		if err != nil {
			slog.Warn("unexpected STK result code", "checkout_request_id", pr.CheckoutRequestID, "result_code", res.ResultCode)
			continue
		}
		if code == 0 {
			// Paid, but only the callback carries the receipt number.
			slog.Error("payment completed without a callback", "checkout_request_id", pr.CheckoutRequestID, "payment_request_id", pr.ID)
			continue
		}

		err = w.db.WithContext(ctx).Model(&models.PaymentRequest{}).
			Where("id = ? AND status = ?", pr.ID, models.PaymentRequestPending).
			Updates(map[string]any{
				"status":      models.PaymentRequestFailed,
				"result_code": code,
				"result_desc": res.ResultDesc,
			}).Error
		if err != nil {
			slog.Error("failed to settle payment request", "payment_request_id", pr.ID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}
