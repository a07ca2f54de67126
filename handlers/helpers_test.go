package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"savegame-system/middleware"
	"savegame-system/models"
	"savegame-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testGatewayToken = "gw-token"

type testEnv struct {
	db       *gorm.DB
	app      *fiber.App
	org      *models.Organization
	payments *services.PaymentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))

	org := &models.Organization{Name: "Tujenge Sacco", TotalSavings: decimal.NewFromInt(0)}
	require.NoError(t, db.Create(org).Error)

	notifications := services.NewNotificationService(db, nil)
	leaderboard := services.NewLeaderboardService(db, notifications)
	achievements := services.NewAchievementService(db, notifications)
	processor := services.NewTransactionProcessor(db, leaderboard, achievements, notifications)
	challenges := services.NewChallengeService(db, notifications)
	sweeper := services.NewCompletionSweeper(db, leaderboard, achievements, notifications)
	payments := services.NewPaymentService(db, nil, processor)

	app := fiber.New()
	SetupWebhookRoutes(app, &WebhookHandler{Payments: payments, Notifications: notifications})
	secured := app.Group("/s", middleware.GatewayAuthMiddleware(testGatewayToken), middleware.UserContextMiddleware())
	admin := secured.Group("/admin", middleware.RequireRole(string(models.RoleOrgAdmin), string(models.RoleSuperAdmin)))
	SetupTransactionRoutes(secured, admin, processor, payments)
	SetupChallengeRoutes(secured, admin, challenges, leaderboard, sweeper)
	SetupProgressionRoutes(secured, admin, achievements)

	return &testEnv{db: db, app: app, org: org, payments: payments}
}

func (e *testEnv) seedUser(t *testing.T, phone string) *models.User {
	t.Helper()
	u := &models.User{OrganizationID: e.org.ID, PhoneNumber: phone, FirstName: "Otieno", TotalSaved: decimal.NewFromInt(0)}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

// call sends a gateway-authenticated request as userID with the given roles.
func (e *testEnv) call(t *testing.T, method, path, userID, roles string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testGatewayToken)
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-Organization-ID", e.org.ID)
	req.Header.Set("X-User-Roles", roles)
	return e.do(t, req)
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}
