package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"savegame-system/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func seedOrg(t *testing.T, db *gorm.DB) *models.Organization {
	t.Helper()
	org := &models.Organization{
		Name:         "Umoja Chama " + uuid.NewString()[:8],
		Timezone:     "Africa/Nairobi",
		TotalSavings: decimal.NewFromInt(0),
	}
	require.NoError(t, db.Create(org).Error)
	return org
}

func seedUser(t *testing.T, db *gorm.DB, orgID, phone string) *models.User {
	t.Helper()
	u := &models.User{
		OrganizationID: orgID,
		PhoneNumber:    phone,
		FirstName:      "Wanjiru",
		Role:           models.RoleMember,
		TotalSaved:     decimal.NewFromInt(0),
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedChallenge(t *testing.T, db *gorm.DB, orgID string, status models.ChallengeStatus, start, end time.Time) *models.Challenge {
	t.Helper()
	ch := &models.Challenge{
		OrganizationID:   orgID,
		Name:             "December Push",
		Type:             models.ChallengeFixedAmount,
		Status:           status,
		Target:           datatypes.NewJSONType(models.ChallengeTarget{}),
		StartDate:        dateOnly(start),
		EndDate:          dateOnly(end),
		PointsPerKes:     decimal.NewFromInt(1),
		StreakMultiplier: decimal.NewFromFloat(1.5),
		CompletionBonus:  1000,
		TotalSaved:       decimal.NewFromInt(0),
	}
	require.NoError(t, db.Create(ch).Error)
	return ch
}

func seedParticipant(t *testing.T, db *gorm.DB, challengeID, userID string) *models.ChallengeParticipant {
	t.Helper()
	p := &models.ChallengeParticipant{
		ChallengeID:      challengeID,
		UserID:           userID,
		Status:           models.ParticipantActive,
		TotalContributed: decimal.NewFromInt(0),
		Progress:         models.ParticipantProgress{CurrentAmount: decimal.NewFromInt(0)},
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedAchievement(t *testing.T, db *gorm.DB, orgID *string, name string, c models.Criteria) *models.Achievement {
	t.Helper()
	raw, err := models.EncodeCriteria(c)
	require.NoError(t, err)
	a := &models.Achievement{
		OrganizationID: orgID,
		Name:           name,
		Rarity:         models.RarityCommon,
		Criteria:       raw,
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

func verifiedTxn(orgID, userID string, challengeID *string, amount int64, at time.Time) *models.Transaction {
	now := time.Now().UTC()
	return &models.Transaction{
		OrganizationID:  orgID,
		UserID:          userID,
		ChallengeID:     challengeID,
		Amount:          decimal.NewFromInt(amount),
		Currency:        "KES",
		PhoneNumber:     "+254712345678",
		Status:          models.TransactionVerified,
		Source:          models.SourceManual,
		VerifiedAt:      &now,
		TransactionDate: at,
	}
}

func reloadUser(t *testing.T, db *gorm.DB, id string) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.Where("id = ?", id).First(&u).Error)
	return u
}

type sentNotification struct {
	UserID string
	Kind   models.NotificationKind
	Params map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Send(_ context.Context, userID string, kind models.NotificationKind, params map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{UserID: userID, Kind: kind, Params: params})
	return true
}

func (f *fakeNotifier) ofKind(kind models.NotificationKind) []sentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentNotification
	for _, n := range f.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type spyEvaluator struct {
	mu    sync.Mutex
	calls []string
	ctxs  []EvalContext
}

func (s *spyEvaluator) Evaluate(_ context.Context, userID string, ec EvalContext) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID)
	s.ctxs = append(s.ctxs, ec)
	return nil, nil
}

type spyRecalculator struct {
	mu    sync.Mutex
	calls []string
}

func (s *spyRecalculator) Recalculate(_ context.Context, challengeID string) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, challengeID)
	return nil, nil
}

type failingEvaluator struct{ calls atomic.Int32 }

func (f *failingEvaluator) Evaluate(context.Context, string, EvalContext) ([]string, error) {
	f.calls.Add(1)
	return nil, errors.New("achievement store unavailable")
}

type failingRecalculator struct{ calls atomic.Int32 }

func (f *failingRecalculator) Recalculate(context.Context, string) ([]models.LeaderboardEntry, error) {
	f.calls.Add(1)
	return nil, errors.New("leaderboard rebuild timed out")
}
