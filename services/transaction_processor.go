package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savegame-system/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var lockForUpdate = clause.Locking{Strength: "UPDATE"}

// TransactionProcessor applies verified deposits to every denormalized counter
// (user, organization, challenge, participant) and then fans out to the
// leaderboard, achievements and notifications.
//
// Row lock order inside a database transaction is: transaction, challenge,
// user, participant. Leaderboard recalculation and the completion sweeper
// lock the challenge row first as well.
type TransactionProcessor struct {
	DB           *gorm.DB
	Leaderboard  LeaderboardRecalculator
	Achievements AchievementEvaluator
	Notifier     Notifier
}

func NewTransactionProcessor(db *gorm.DB, leaderboard LeaderboardRecalculator, achievements AchievementEvaluator, notifier Notifier) *TransactionProcessor {
	return &TransactionProcessor{
		DB:           db,
		Leaderboard:  leaderboard,
		Achievements: achievements,
		Notifier:     notifier,
	}
}

// processOutcome is what one apply pass changed, handed to the post-commit steps.
type processOutcome struct {
	applied     bool
	txn         models.Transaction
	challengeID string
	points      int64
	totalSaved  decimal.Decimal
}

// ProcessVerifiedTransaction applies a verified transaction exactly once.
// Missing, unverified and already processed transactions are silent no-ops.
func (p *TransactionProcessor) ProcessVerifiedTransaction(ctx context.Context, transactionID string) error {
	_, err := p.process(ctx, transactionID)
	return err
}

func (p *TransactionProcessor) process(ctx context.Context, transactionID string) (processOutcome, error) {
	var out processOutcome
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = p.apply(tx, transactionID)
		return err
	})
	if err != nil {
		return out, fmt.Errorf("process transaction %s: %w", transactionID, err)
	}
	p.afterCommit(ctx, out)
	return out, nil
}

// RecordAndProcess inserts a new transaction and applies it when verified.
// A receipt number that is already stored reports created=false and touches
// nothing. The row is committed before processing, so a processing failure
// leaves a verified, unprocessed row for ReprocessPending.
func (p *TransactionProcessor) RecordAndProcess(ctx context.Context, txn *models.Transaction) (bool, error) {
	if !txn.Amount.IsPositive() {
		return false, fmt.Errorf("%w: amount must be positive, got %s", models.ErrInvalidArgument, txn.Amount)
	}
	if txn.TransactionDate.IsZero() {
		txn.TransactionDate = time.Now()
	}
	txn.TransactionDate = txn.TransactionDate.UTC()

	res := p.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "mpesa_receipt_number"}}, DoNothing: true}).
		Create(txn)
	if res.Error != nil {
		return false, fmt.Errorf("record transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if txn.Status != models.TransactionVerified {
		return true, nil
	}
	return true, p.ProcessVerifiedTransaction(ctx, txn.ID)
}

// VerifyAndProcess moves a pending transaction to verified and applies it in
// one database transaction. Either both happen or neither does.
func (p *TransactionProcessor) VerifyAndProcess(ctx context.Context, organizationID, transactionID, verifierID string) (*models.Transaction, error) {
	var out processOutcome
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND organization_id = ? AND status = ?", transactionID, organizationID, models.TransactionPending).
			Updates(map[string]any{
				"status":      models.TransactionVerified,
				"verified_by": verifierID,
				"verified_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: pending transaction %s", models.ErrNotFound, transactionID)
		}
		var err error
		out, err = p.apply(tx, transactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.afterCommit(ctx, out)

	var txn models.Transaction
	if err := p.DB.WithContext(ctx).Where("id = ?", transactionID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// ManualTransactionInput is an admin-entered deposit (cash collection, bulk upload).
type ManualTransactionInput struct {
	OrganizationID  string
	UserID          string
	ChallengeID     *string
	Amount          decimal.Decimal
	Source          models.TransactionSource
	Notes           string
	VerifiedBy      string
	TransactionDate time.Time
}

// RecordManual stores an admin-entered deposit as already verified and
// processes it. When the row is stored but processing fails, both the
// transaction and the error are returned.
func (p *TransactionProcessor) RecordManual(ctx context.Context, in ManualTransactionInput) (*models.Transaction, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", models.ErrInvalidArgument, in.Amount)
	}

	db := p.DB.WithContext(ctx)
	var user models.User
	if err := db.Where("id = ? AND organization_id = ?", in.UserID, in.OrganizationID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, in.UserID)
		}
		return nil, err
	}
	if in.ChallengeID != nil {
		var count int64
		if err := db.Model(&models.Challenge{}).
			Where("id = ? AND organization_id = ?", *in.ChallengeID, in.OrganizationID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: challenge %s", models.ErrNotFound, *in.ChallengeID)
		}
	}

	source := in.Source
	if source == "" {
		source = models.SourceManual
	}
	now := time.Now().UTC()
	verifier := in.VerifiedBy
	txn := &models.Transaction{
		OrganizationID:  in.OrganizationID,
		UserID:          user.ID,
		ChallengeID:     in.ChallengeID,
		Amount:          in.Amount,
		Currency:        "KES",
		PhoneNumber:     user.PhoneNumber,
		Status:          models.TransactionVerified,
		Source:          source,
		VerifiedBy:      &verifier,
		VerifiedAt:      &now,
		Notes:           in.Notes,
		TransactionDate: in.TransactionDate,
	}
	created, err := p.RecordAndProcess(ctx, txn)
	if !created {
		return nil, err
	}
	// created but not applied: the row stays for ReprocessPending
	return txn, err
}

// ReprocessPending applies verified transactions that have not been processed
// yet (oldest first) and returns how many were applied. Rows that can never
// be applied are marked failed so they drop out of later batches.
func (p *TransactionProcessor) ReprocessPending(ctx context.Context, limit int) (int, error) {
	var ids []string
	err := p.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("status = ? AND processed_at IS NULL", models.TransactionVerified).
		Order("transaction_date ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("list unprocessed transactions: %w", err)
	}

	processed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		out, err := p.process(ctx, id)
		if errors.Is(err, models.ErrInvalidArgument) {
			p.failUnprocessable(ctx, id, err.Error())
			continue
		}
		if err != nil {
			slog.Error("reprocess failed", "transaction_id", id, "error", err)
			continue
		}
		if out.applied {
			processed++
		}
	}
	return processed, nil
}

// failUnprocessable moves a verified, unprocessed row to failed and records why in its notes.
func (p *TransactionProcessor) failUnprocessable(ctx context.Context, transactionID, reason string) {
	err := markFailed(p.DB.WithContext(ctx), transactionID, reason)
	if err != nil {
		slog.Error("failed to mark transaction failed", "transaction_id", transactionID, "error", err)
		return
	}
	slog.Warn("transaction cannot be applied, marked failed", "transaction_id", transactionID, "reason", reason)
}

func markFailed(db *gorm.DB, transactionID, reason string) error {
	return db.Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND processed_at IS NULL", transactionID, models.TransactionVerified).
		Updates(map[string]any{
			"status": models.TransactionFailed,
			"notes":  gorm.Expr("CASE WHEN notes IS NULL OR notes = '' THEN ? ELSE notes || '; ' || ? END", reason, reason),
		}).Error
}

func (p *TransactionProcessor) apply(tx *gorm.DB, transactionID string) (processOutcome, error) {
	var out processOutcome

	var txn models.Transaction
	err := tx.Clauses(lockForUpdate).Where("id = ?", transactionID).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Warn("transaction not found, nothing to process", "transaction_id", transactionID)
		return out, nil
	}
	if err != nil {
		return out, err
	}

	switch {
	case txn.Status != models.TransactionVerified:
		slog.Debug("transaction not verified, skipping", "transaction_id", txn.ID, "status", txn.Status)
		return out, nil
	case txn.ProcessedAt != nil:
		return out, nil
	case txn.PointsAwarded != nil:
		// treated as already processed; stamped so reconciliation stops selecting it
		slog.Error("transaction carries points without a processed marker, closing it untouched",
			"transaction_id", txn.ID, "error", models.ErrInconsistentState)
		return out, tx.Model(&models.Transaction{}).Where("id = ?", txn.ID).
			Update("processed_at", time.Now().UTC()).Error
	}
	if !txn.Amount.IsPositive() {
		return out, fmt.Errorf("%w: transaction %s amount %s must be positive", models.ErrInvalidArgument, txn.ID, txn.Amount)
	}

	var challenge *models.Challenge
	if txn.ChallengeID != nil {
		var ch models.Challenge
		err := tx.Clauses(lockForUpdate).Where("id = ?", *txn.ChallengeID).First(&ch).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			slog.Warn("challenge not found, skipping challenge credit", "transaction_id", txn.ID, "challenge_id", *txn.ChallengeID)
		case err != nil:
			return out, err
		default:
			challenge = &ch
		}
	}

	var user models.User
	err = tx.Clauses(lockForUpdate).Where("id = ?", txn.UserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Warn("user not found, marking transaction failed", "transaction_id", txn.ID, "user_id", txn.UserID)
		return out, markFailed(tx, txn.ID, "user "+txn.UserID+" not found")
	}
	if err != nil {
		return out, err
	}

	var org models.Organization
	if err := tx.Where("id = ?", txn.OrganizationID).First(&org).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return out, err
	}
	loc := org.Location()
	now := time.Now().UTC()

	// User savings and streak
	prior, err := priorSaveDates(tx, txn, nil)
	if err != nil {
		return out, err
	}
	streak := openStreak(NextStreak(StreakState{Current: user.CurrentStreak, Longest: user.LongestStreak}, prior, txn.TransactionDate, loc))
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"total_saved":    gorm.Expr("total_saved + ?", txn.Amount),
		"current_streak": streak.Current,
		"longest_streak": streak.Longest,
		"last_active_at": now,
	}).Error; err != nil {
		return out, fmt.Errorf("update user totals: %w", err)
	}

	// Organization savings
	if err := tx.Model(&models.Organization{}).Where("id = ?", txn.OrganizationID).
		Update("total_savings", gorm.Expr("total_savings + ?", txn.Amount)).Error; err != nil {
		return out, fmt.Errorf("update organization totals: %w", err)
	}

	marker := map[string]any{"processed_at": now}

	if challenge != nil {
		points, err := p.creditChallenge(tx, txn, challenge, loc)
		if err != nil {
			return out, err
		}
		marker["points_awarded"] = points
		out.challengeID = challenge.ID
		out.points = points
	}

	if err := tx.Model(&models.Transaction{}).Where("id = ?", txn.ID).Updates(marker).Error; err != nil {
		return out, fmt.Errorf("mark processed: %w", err)
	}

	out.applied = true
	out.txn = txn
	out.totalSaved = user.TotalSaved.Add(txn.Amount)
	return out, nil
}

// creditChallenge updates participant progress, challenge totals and user
// points. Points use the participant's streak as stored before this deposit;
// the advanced streak is written back afterwards.
func (p *TransactionProcessor) creditChallenge(tx *gorm.DB, txn models.Transaction, challenge *models.Challenge, loc *time.Location) (int64, error) {
	var part models.ChallengeParticipant
	err := tx.Clauses(lockForUpdate).
		Where("challenge_id = ? AND user_id = ?", challenge.ID, txn.UserID).
		First(&part).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	streakBefore, participantStreak := 0, 0
	if found {
		streakBefore = part.Progress.CurrentStreak
		prior, err := priorSaveDates(tx, txn, &challenge.ID)
		if err != nil {
			return 0, err
		}
		participantStreak = openStreak(NextStreak(StreakState{Current: streakBefore, Longest: streakBefore}, prior, txn.TransactionDate, loc)).Current
	} else {
		slog.Warn("user is not a participant, crediting challenge totals only",
			"transaction_id", txn.ID, "challenge_id", challenge.ID, "user_id", txn.UserID)
	}

	points, err := CalculatePoints(txn.Amount, challenge.PointsPerKes, challenge.StreakMultiplier, streakBefore)
	if err != nil {
		return 0, err
	}

	if found {
		if err := tx.Model(&models.ChallengeParticipant{}).Where("id = ?", part.ID).Updates(map[string]any{
			"total_contributed":              gorm.Expr("total_contributed + ?", txn.Amount),
			"total_points":                   gorm.Expr("total_points + ?", points),
			"progress_current_amount":        gorm.Expr("progress_current_amount + ?", txn.Amount),
			"progress_transactions_count":    gorm.Expr("progress_transactions_count + 1"),
			"progress_current_streak":        participantStreak,
			"progress_last_transaction_date": txn.TransactionDate,
		}).Error; err != nil {
			return 0, fmt.Errorf("update participant progress: %w", err)
		}
	}

	if err := tx.Model(&models.Challenge{}).Where("id = ?", challenge.ID).
		Update("total_saved", gorm.Expr("total_saved + ?", txn.Amount)).Error; err != nil {
		return 0, fmt.Errorf("update challenge totals: %w", err)
	}
	if err := tx.Model(&models.User{}).Where("id = ?", txn.UserID).
		Update("total_points", gorm.Expr("total_points + ?", points)).Error; err != nil {
		return 0, fmt.Errorf("update user points: %w", err)
	}
	return points, nil
}

// priorSaveDates returns up to two earlier processed save dates, newest first.
func priorSaveDates(tx *gorm.DB, txn models.Transaction, challengeID *string) ([]time.Time, error) {
	q := tx.Model(&models.Transaction{}).
		Where("user_id = ? AND id <> ? AND status = ? AND processed_at IS NOT NULL AND transaction_date <= ?",
			txn.UserID, txn.ID, models.TransactionVerified, txn.TransactionDate)
	if challengeID != nil {
		q = q.Where("challenge_id = ?", *challengeID)
	}
	var dates []time.Time
	if err := q.Order("transaction_date DESC").Limit(2).Pluck("transaction_date", &dates).Error; err != nil {
		return nil, fmt.Errorf("load prior saves: %w", err)
	}
	return dates, nil
}

// afterCommit runs the best-effort fan-out. Failures are logged and never
// undo the committed aggregate updates.
func (p *TransactionProcessor) afterCommit(ctx context.Context, out processOutcome) {
	if !out.applied {
		return
	}
	slog.Info("💰 transaction processed",
		"transaction_id", out.txn.ID,
		"user_id", out.txn.UserID,
		"amount", out.txn.Amount.String(),
		"points", out.points)

	var challengeID *string
	if out.challengeID != "" {
		id := out.challengeID
		challengeID = &id
	}

	if challengeID != nil && p.Leaderboard != nil {
		if _, err := p.Leaderboard.Recalculate(ctx, *challengeID); err != nil {
			slog.Warn("leaderboard recalculation failed", "challenge_id", *challengeID, "error", err)
		}
	}

	if p.Achievements != nil {
		amount := out.txn.Amount
		if _, err := p.Achievements.Evaluate(ctx, out.txn.UserID, EvalContext{ChallengeID: challengeID, TransactionAmount: &amount}); err != nil {
			slog.Warn("achievement evaluation failed", "user_id", out.txn.UserID, "error", err)
		}
	}

	if p.Notifier != nil {
		p.Notifier.Send(ctx, out.txn.UserID, models.NotifyTransactionConfirmed, map[string]any{
			"amount":      out.txn.Amount,
			"total_saved": out.totalSaved,
			"points":      out.points,
		})
	}
}
