// handlers/progression_routes.go
package handlers

import (
	"encoding/json"
	"errors"

	"savegame-system/middleware"
	"savegame-system/models"
	"savegame-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupProgressionRoutes(secured, admin fiber.Router, achievementService *services.AchievementService) {
	// 👤 The caller's savings stats and earned achievements
	secured.Get("/me/progress", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)

		var user models.User
		if err := achievementService.DB.WithContext(c.UserContext()).
			Where("id = ? AND organization_id = ?", userID, middleware.OrganizationID(c)).
			First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "member not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "DB error fetching member",
				"cause": err.Error(),
			})
		}

		earned, err := achievementService.ListForUser(c.UserContext(), userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load achievements",
				"cause": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"total_saved":          user.TotalSaved,
			"total_points":         user.TotalPoints,
			"current_streak":       user.CurrentStreak,
			"longest_streak":       user.LongestStreak,
			"challenges_completed": user.ChallengesCompleted,
			"last_active_at":       user.LastActiveAt,
			"achievements":         earned,
		})
	})

	// 🔐 Admin: achievement definitions
	admin.Post("/achievements", func(c *fiber.Ctx) error {
		type Req struct {
			Name        string                   `json:"name"`
			Description string                   `json:"description"`
			Icon        string                   `json:"icon"`
			Rarity      models.AchievementRarity `json:"rarity"`
			SortOrder   int                      `json:"sort_order"`
			Global      bool                     `json:"global"`
			Criteria    json.RawMessage          `json:"criteria"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}

		criteria, err := models.ParseCriteria(req.Criteria)
		if err != nil {
			return respondError(c, err, "invalid criteria")
		}

		var orgID *string
		if req.Global {
			if !middleware.HasRole(c, string(models.RoleSuperAdmin)) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "only super admins can create global achievements"})
			}
		} else {
			id := middleware.OrganizationID(c)
			orgID = &id
		}

		a, err := achievementService.CreateAchievement(c.UserContext(), services.AchievementInput{
			OrganizationID: orgID,
			Name:           req.Name,
			Description:    req.Description,
			Icon:           req.Icon,
			Rarity:         req.Rarity,
			Criteria:       criteria,
			SortOrder:      req.SortOrder,
		})
		if err != nil {
			return respondError(c, err, "failed to create achievement")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"achievement": a})
	})
}
