package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"savegame-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPurger struct{ calls atomic.Int32 }

func (p *countingPurger) DeleteExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 0, nil
}

func TestPipelineSchedulerRunsJobs(t *testing.T) {
	f := newProcessorFixture(t)
	seedParticipant(t, f.db, f.challenge.ID, f.user.ID)
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	ended := seedChallenge(t, f.db, f.org.ID, models.ChallengeActive, yesterday.AddDate(0, -1, 0), yesterday.AddDate(0, 0, -1))
	require.NoError(t, f.db.Create(verifiedTxn(f.org.ID, f.user.ID, nil, 400, time.Now().UTC())).Error)

	sweeper := NewCompletionSweeper(f.db, f.board, f.evals, f.notes)
	purger := &countingPurger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched, err := StartPipelineScheduler(ctx, SchedulerConfig{
		SweepInterval:      20 * time.Millisecond,
		ReconcileInterval:  20 * time.Millisecond,
		ReconcileBatchSize: 10,
		PurgeInterval:      20 * time.Millisecond,
	}, sweeper, f.processor, purger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Shutdown() })

	require.Eventually(t, func() bool {
		var u models.User
		if err := f.db.Where("id = ?", f.user.ID).First(&u).Error; err != nil {
			return false
		}
		return u.TotalSaved.Equal(decimal.NewFromInt(400))
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		var ch models.Challenge
		if err := f.db.Where("id = ?", ended.ID).First(&ch).Error; err != nil {
			return false
		}
		return ch.Status == models.ChallengeCompleted
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return purger.calls.Load() > 0 }, 2*time.Second, 20*time.Millisecond)

	var ch models.Challenge
	require.NoError(t, f.db.Where("id = ?", f.challenge.ID).First(&ch).Error)
	assert.Equal(t, models.ChallengeActive, ch.Status)
}
