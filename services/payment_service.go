package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"savegame-system/models"
	"savegame-system/utils"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentGateway starts customer payments (M-Pesa STK push in production).
type PaymentGateway interface {
	InitiateSTKPush(ctx context.Context, in STKPushRequest) (*STKPushResult, error)
}

// ConfirmationOutcome is what happened to one payment callback.
type ConfirmationOutcome string

const (
	OutcomeRecorded      ConfirmationOutcome = "recorded"
	OutcomeDuplicate     ConfirmationOutcome = "duplicate"
	OutcomePaymentFailed ConfirmationOutcome = "payment_failed"
	OutcomeUnknownPayer  ConfirmationOutcome = "unknown_payer"
)

// PaymentService links outbound payment requests with inbound confirmations
// and feeds confirmed payments into the transaction processor.
type PaymentService struct {
	DB        *gorm.DB
	Gateway   PaymentGateway
	Processor *TransactionProcessor
}

func NewPaymentService(db *gorm.DB, gateway PaymentGateway, processor *TransactionProcessor) *PaymentService {
	return &PaymentService{DB: db, Gateway: gateway, Processor: processor}
}

// DepositInput is a member-initiated deposit.
type DepositInput struct {
	OrganizationID string
	UserID         string
	ChallengeID    *string
	Amount         decimal.Decimal
	PhoneNumber    string // defaults to the member's registered number
}

// InitiateDeposit sends an STK push and records the pending request. The
// gateway call happens before anything is written; a failed push leaves no row.
func (s *PaymentService) InitiateDeposit(ctx context.Context, in DepositInput) (*models.PaymentRequest, error) {
	if s.Gateway == nil {
		return nil, fmt.Errorf("%w: payments are not configured", models.ErrExternalService)
	}
	if in.Amount.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: deposit must be at least 1 KES", models.ErrInvalidArgument)
	}

	db := s.DB.WithContext(ctx)
	var user models.User
	if err := db.Where("id = ? AND organization_id = ?", in.UserID, in.OrganizationID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, in.UserID)
		}
		return nil, err
	}

	reference := "SAVINGS"
	if in.ChallengeID != nil {
		var ch models.Challenge
		if err := db.Select("id", "status").
			Where("id = ? AND organization_id = ?", *in.ChallengeID, in.OrganizationID).
			First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: challenge %s", models.ErrNotFound, *in.ChallengeID)
			}
			return nil, err
		}
		if ch.Status != models.ChallengeActive {
			return nil, fmt.Errorf("%w: challenge is %s", models.ErrInvalidTransition, ch.Status)
		}
		reference = "CHALLENGE"
	}

	phone, err := utils.FormatPhoneNumber(in.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	if phone == "" {
		phone = user.PhoneNumber
	}

	push, err := s.Gateway.InitiateSTKPush(ctx, STKPushRequest{
		PhoneNumber:      phone,
		Amount:           in.Amount,
		AccountReference: reference,
		Description:      "Savings deposit",
	})
	if err != nil {
		return nil, fmt.Errorf("initiate stk push: %w", err)
	}

	pr := &models.PaymentRequest{
		OrganizationID:    in.OrganizationID,
		UserID:            user.ID,
		ChallengeID:       in.ChallengeID,
		PhoneNumber:       phone,
		Amount:            in.Amount.Floor(),
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		Status:            models.PaymentRequestPending,
	}
	if err := db.Create(pr).Error; err != nil {
		return nil, err
	}
	slog.Info("📲 STK push sent", "user_id", user.ID, "checkout_request_id", pr.CheckoutRequestID, "amount", pr.Amount.String())
	return pr, nil
}

// ApplyConfirmation turns a parsed payment callback into a verified
// transaction. raw is stored as the transaction metadata.
func (s *PaymentService) ApplyConfirmation(ctx context.Context, conf *PaymentConfirmation, raw []byte) (ConfirmationOutcome, *models.Transaction, error) {
	db := s.DB.WithContext(ctx)

	var request *models.PaymentRequest
	if conf.CheckoutRequestID != "" {
		var pr models.PaymentRequest
		err := db.Where("checkout_request_id = ?", conf.CheckoutRequestID).First(&pr).Error
		switch {
		case err == nil:
			request = &pr
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return "", nil, err
		}
	}

	if !conf.Succeeded() {
		if request != nil {
			code := conf.ResultCode
			s.settleRequest(ctx, request.ID, models.PaymentRequestFailed, &code, conf.ResultDesc, nil)
		}
		slog.Info("payment not completed", "checkout_request_id", conf.CheckoutRequestID, "result_code", conf.ResultCode, "result_desc", conf.ResultDesc)
		return OutcomePaymentFailed, nil, nil
	}

	payerPhone, err := utils.FormatPhoneNumber(conf.PhoneNumber)
	if err != nil {
		slog.Warn("unparseable payer phone", "checkout_request_id", conf.CheckoutRequestID, "error", err)
	}
	user, err := s.findPayer(ctx, payerPhone, request)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		slog.Warn("payment from unknown phone", "receipt", conf.ReceiptNumber, "checkout_request_id", conf.CheckoutRequestID)
		return OutcomeUnknownPayer, nil, nil
	}

	var challengeID *string
	if request != nil && request.UserID == user.ID {
		challengeID = request.ChallengeID
	}

	receipt := conf.ReceiptNumber
	now := time.Now().UTC()
	txn := &models.Transaction{
		OrganizationID:     user.OrganizationID,
		UserID:             user.ID,
		ChallengeID:        challengeID,
		Amount:             conf.Amount,
		Currency:           "KES",
		MpesaReceiptNumber: &receipt,
		PhoneNumber:        user.PhoneNumber,
		Status:             models.TransactionVerified,
		Source:             models.SourceMpesa,
		VerifiedAt:         &now,
		Metadata:           datatypes.JSON(raw),
		TransactionDate:    conf.TransactionTime,
	}

	created, err := s.Processor.RecordAndProcess(ctx, txn)
	if !created {
		if err != nil {
			return "", nil, err
		}
		slog.Info("duplicate payment callback ignored", "receipt", receipt)
		return OutcomeDuplicate, nil, nil
	}
	if request != nil {
		code := conf.ResultCode
		s.settleRequest(ctx, request.ID, models.PaymentRequestCompleted, &code, conf.ResultDesc, &txn.ID)
	}
	return OutcomeRecorded, txn, err
}

// findPayer resolves the paying member: the requester when the phone
// matches, otherwise the oldest active member with that phone.
func (s *PaymentService) findPayer(ctx context.Context, phone string, request *models.PaymentRequest) (*models.User, error) {
	if phone == "" {
		return nil, nil
	}
	db := s.DB.WithContext(ctx)
	var user models.User
	if request != nil {
		err := db.Where("id = ? AND phone_number = ?", request.UserID, phone).First(&user).Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	err := db.Where("phone_number = ?", phone).Order("created_at ASC").First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *PaymentService) settleRequest(ctx context.Context, id string, status models.PaymentRequestStatus, code *int, desc string, transactionID *string) {
	updates := map[string]any{
		"status":      status,
		"result_code": code,
		"result_desc": desc,
	}
	if transactionID != nil {
		updates["transaction_id"] = *transactionID
	}
	err := s.DB.WithContext(ctx).Model(&models.PaymentRequest{}).
		Where("id = ? AND status = ?", id, models.PaymentRequestPending).
		Updates(updates).Error
	if err != nil {
		slog.Warn("failed to settle payment request", "payment_request_id", id, "error", err)
	}
}
