package handlers

import (
	"time"

	"savegame-system/middleware"
	"savegame-system/models"
	"savegame-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

func SetupChallengeRoutes(secured, admin fiber.Router, challengeService *services.ChallengeService, leaderboardService *services.LeaderboardService, sweeper *services.CompletionSweeper) {
	// 🔐 Admin: lifecycle
	admin.Post("/challenges", func(c *fiber.Ctx) error {
		type Req struct {
			Name             string                 `json:"name"`
			Description      string                 `json:"description"`
			Type             models.ChallengeType   `json:"type"`
			Target           models.ChallengeTarget `json:"target"`
			StartDate        time.Time              `json:"start_date"`
			EndDate          time.Time              `json:"end_date"`
			PointsPerKes     *decimal.Decimal       `json:"points_per_kes,omitempty"`
			StreakMultiplier *decimal.Decimal       `json:"streak_multiplier,omitempty"`
			CompletionBonus  *int64                 `json:"completion_bonus,omitempty"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		createdBy := middleware.UserID(c)
		ch, err := challengeService.CreateChallenge(c.UserContext(), services.ChallengeInput{
			OrganizationID:   middleware.OrganizationID(c),
			CreatedBy:        &createdBy,
			Name:             req.Name,
			Description:      req.Description,
			Type:             req.Type,
			Target:           req.Target,
			StartDate:        req.StartDate,
			EndDate:          req.EndDate,
			PointsPerKes:     req.PointsPerKes,
			StreakMultiplier: req.StreakMultiplier,
			CompletionBonus:  req.CompletionBonus,
		})
		if err != nil {
			return respondError(c, err, "failed to create challenge")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"challenge": ch})
	})

	admin.Post("/challenges/sweep", func(c *fiber.Ctx) error {
		res, err := sweeper.SweepExpired(c.UserContext(), time.Now())
		if err != nil {
			return respondError(c, err, "completion sweep failed")
		}
		return c.JSON(res)
	})

	admin.Post("/challenges/:id/activate", func(c *fiber.Ctx) error {
		ch, err := challengeService.Activate(c.UserContext(), middleware.OrganizationID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err, "failed to activate challenge")
		}
		return c.JSON(fiber.Map{"challenge": ch})
	})

	admin.Post("/challenges/:id/cancel", func(c *fiber.Ctx) error {
		ch, err := challengeService.Cancel(c.UserContext(), middleware.OrganizationID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err, "failed to cancel challenge")
		}
		return c.JSON(fiber.Map{"challenge": ch})
	})

	admin.Post("/challenges/:id/leaderboard/recalculate", func(c *fiber.Ctx) error {
		ch, err := challengeService.Get(c.UserContext(), middleware.OrganizationID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err, "challenge not found")
		}
		entries, err := leaderboardService.Recalculate(c.UserContext(), ch.ID)
		if err != nil {
			return respondError(c, err, "failed to recalculate leaderboard")
		}
		return c.JSON(fiber.Map{"leaderboard": entries})
	})

	// 👤 Members
	secured.Get("/challenges/:id", func(c *fiber.Ctx) error {
		ch, err := challengeService.Get(c.UserContext(), middleware.OrganizationID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err, "challenge not found")
		}
		return c.JSON(fiber.Map{"challenge": ch})
	})

	secured.Post("/challenges/:id/join", func(c *fiber.Ctx) error {
		part, err := challengeService.Join(c.UserContext(), middleware.OrganizationID(c), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, err, "failed to join challenge")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"participant": part})
	})

	secured.Post("/challenges/:id/leave", func(c *fiber.Ctx) error {
		if err := challengeService.Leave(c.UserContext(), middleware.OrganizationID(c), c.Params("id"), middleware.UserID(c)); err != nil {
			return respondError(c, err, "failed to leave challenge")
		}
		return c.JSON(fiber.Map{"message": "left challenge"})
	})

	secured.Get("/challenges/:id/leaderboard", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		entries, err := leaderboardService.Entries(c.UserContext(), middleware.OrganizationID(c), c.Params("id"), limit)
		if err != nil {
			return respondError(c, err, "failed to load leaderboard")
		}
		return c.JSON(fiber.Map{"leaderboard": entries})
	})
}
