package handlers

import (
	"time"

	"savegame-system/middleware"
	"savegame-system/models"
	"savegame-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

func SetupTransactionRoutes(secured, admin fiber.Router, processor *services.TransactionProcessor, payments *services.PaymentService) {
	// 🔐 Admin: verification and manual entry
	admin.Post("/transactions/:id/verify", func(c *fiber.Ctx) error {
		txn, err := processor.VerifyAndProcess(c.UserContext(), middleware.OrganizationID(c), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, err, "failed to verify transaction")
		}
		return c.JSON(fiber.Map{"transaction": txn})
	})

	admin.Post("/transactions", func(c *fiber.Ctx) error {
		type Req struct {
			UserID          string          `json:"user_id"`
			ChallengeID     *string         `json:"challenge_id,omitempty"`
			Amount          decimal.Decimal `json:"amount"`
			Source          string          `json:"source,omitempty"`
			Notes           string          `json:"notes,omitempty"`
			TransactionDate *time.Time      `json:"transaction_date,omitempty"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}

		in := services.ManualTransactionInput{
			OrganizationID: middleware.OrganizationID(c),
			UserID:         req.UserID,
			ChallengeID:    req.ChallengeID,
			Amount:         req.Amount,
			Source:         models.TransactionSource(req.Source),
			Notes:          req.Notes,
			VerifiedBy:     middleware.UserID(c),
		}
		switch in.Source {
		case "", models.SourceManual, models.SourceBulkUpload:
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source must be manual or bulk_upload"})
		}
		if req.TransactionDate != nil {
			in.TransactionDate = *req.TransactionDate
		}

		txn, err := processor.RecordManual(c.UserContext(), in)
		if err != nil {
			if txn != nil {
				// stored but not yet applied; the reconciliation job will finish it
				return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"transaction": txn, "warning": err.Error()})
			}
			return respondError(c, err, "failed to record transaction")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transaction": txn})
	})

	// 👤 Member: start an M-Pesa deposit
	secured.Post("/deposits", func(c *fiber.Ctx) error {
		type Req struct {
			ChallengeID *string         `json:"challenge_id,omitempty"`
			Amount      decimal.Decimal `json:"amount"`
			PhoneNumber string          `json:"phone_number,omitempty"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}

		pr, err := payments.InitiateDeposit(c.UserContext(), services.DepositInput{
			OrganizationID: middleware.OrganizationID(c),
			UserID:         middleware.UserID(c),
			ChallengeID:    req.ChallengeID,
			Amount:         req.Amount,
			PhoneNumber:    req.PhoneNumber,
		})
		if err != nil {
			return respondError(c, err, "failed to initiate deposit")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"payment_request": pr,
			"message":         "Check your phone to complete the M-Pesa payment",
		})
	})
}
