package services

import (
	"context"
	"testing"
	"time"

	"savegame-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiredCompletesEndedChallenge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	org := seedOrg(t, db)
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

	ended := seedChallenge(t, db, org.ID, models.ChallengeActive, now.AddDate(0, 0, -30), now.AddDate(0, 0, -1))
	running := seedChallenge(t, db, org.ID, models.ChallengeActive, now.AddDate(0, 0, -30), now)
	draft := seedChallenge(t, db, org.ID, models.ChallengeDraft, now.AddDate(0, 0, -30), now.AddDate(0, 0, -1))

	alice := seedUser(t, db, org.ID, "+254700000001")
	bob := seedUser(t, db, org.ID, "+254700000002")
	quitter := seedUser(t, db, org.ID, "+254700000003")
	seedParticipant(t, db, ended.ID, alice.ID)
	seedParticipant(t, db, ended.ID, bob.ID)
	left := seedParticipant(t, db, ended.ID, quitter.ID)
	require.NoError(t, db.Model(&models.ChallengeParticipant{}).Where("id = ?", left.ID).
		Update("status", models.ParticipantWithdrawn).Error)

	board := &spyRecalculator{}
	evals := &spyEvaluator{}
	notes := &fakeNotifier{}
	sweeper := NewCompletionSweeper(db, board, evals, notes)

	res, err := sweeper.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{ChallengesCompleted: 1, ParticipantsCompleted: 2}, res)

	var ch models.Challenge
	require.NoError(t, db.First(&ch, "id = ?", ended.ID).Error)
	assert.Equal(t, models.ChallengeCompleted, ch.Status)
	assert.NotNil(t, ch.CompletedAt)

	var other models.Challenge
	require.NoError(t, db.First(&other, "id = ?", running.ID).Error)
	assert.Equal(t, models.ChallengeActive, other.Status)
	other = models.Challenge{}
	require.NoError(t, db.First(&other, "id = ?", draft.ID).Error)
	assert.Equal(t, models.ChallengeDraft, other.Status)

	var statuses []string
	require.NoError(t, db.Model(&models.ChallengeParticipant{}).Where("challenge_id = ?", ended.ID).
		Pluck("status", &statuses).Error)
	assert.ElementsMatch(t, []string{"completed", "completed", "withdrawn"}, statuses)

	assert.EqualValues(t, 1, reloadUser(t, db, alice.ID).ChallengesCompleted)
	assert.EqualValues(t, 1, reloadUser(t, db, bob.ID).ChallengesCompleted)
	assert.EqualValues(t, 0, reloadUser(t, db, quitter.ID).ChallengesCompleted)

	assert.Equal(t, []string{ended.ID}, board.calls)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, evals.calls)
	for _, ec := range evals.ctxs {
		require.NotNil(t, ec.ChallengeID)
		assert.Equal(t, ended.ID, *ec.ChallengeID)
	}
	assert.Len(t, notes.ofKind(models.NotifyChallengeCompleted), 2)

	// second run finds nothing left to do
	res, err = sweeper.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	assert.Len(t, evals.calls, 2)
	assert.EqualValues(t, 1, reloadUser(t, db, alice.ID).ChallengesCompleted)
}

func TestSweepUsesOrganizationCalendar(t *testing.T) {
	db := newTestDB(t)
	org := seedOrg(t, db)
	ch := seedChallenge(t, db, org.ID, models.ChallengeActive,
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC))
	sweeper := NewCompletionSweeper(db, nil, nil, nil)

	// 22:30 UTC on the 14th is already the 15th in Nairobi
	res, err := sweeper.SweepExpired(context.Background(), time.Date(2026, 6, 14, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChallengesCompleted)

	var stored models.Challenge
	require.NoError(t, db.First(&stored, "id = ?", ch.ID).Error)
	assert.Equal(t, models.ChallengeCompleted, stored.Status)
}

func TestSweepSkipsChallengeEndingToday(t *testing.T) {
	db := newTestDB(t)
	org := seedOrg(t, db)
	seedChallenge(t, db, org.ID, models.ChallengeActive,
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC))

	res, err := NewCompletionSweeper(db, nil, nil, nil).SweepExpired(context.Background(), time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, res.ChallengesCompleted)
}

func TestEndDatePassed(t *testing.T) {
	nairobi, err := time.LoadLocation("Africa/Nairobi")
	require.NoError(t, err)
	end := time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)

	assert.False(t, endDatePassed(end, time.Date(2026, 6, 14, 20, 0, 0, 0, time.UTC), nairobi))
	assert.True(t, endDatePassed(end, time.Date(2026, 6, 14, 21, 0, 0, 0, time.UTC), nairobi))
	assert.False(t, endDatePassed(end, time.Date(2026, 6, 14, 23, 0, 0, 0, time.UTC), time.UTC))
}
