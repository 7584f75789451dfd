package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lock-points-system/internal/models"
	"lock-points-system/pkg/errors"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	token = "0x15d38573d2feeb82e7ad5187ab8c1d52810b1f07"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func lockRow(user string, index uint64, points float64) *models.LockPoints {
	return &models.LockPoints{
		UserAddress:      user,
		LockIndex:        index,
		TokenAddress:     token,
		TokenAmount:      "100",
		TokenDecimals:    18,
		LockDurationDays: 30,
		PointsEarned:     points,
	}
}

func totalOf(t *testing.T, repo *PointsRepository, user string) float64 {
	t.Helper()
	row, err := repo.GetByUser(context.Background(), user)
	require.NoError(t, err)
	if row == nil {
		return 0
	}
	return row.TotalPoints
}

func TestInsertAccumulatesTotal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	locks := NewLockPointsRepository(db)
	totals := NewPointsRepository(db)

	require.NoError(t, locks.Insert(ctx, lockRow(alice, 0, 20000)))
	require.NoError(t, locks.Insert(ctx, lockRow(alice, 1, 10)))

	assert.InDelta(t, 20010.0, totalOf(t, totals, alice), 1e-9)

	exists, err := locks.Exists(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = locks.Exists(ctx, alice, 2)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInsertConflictLeavesLedgerUnchanged(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	locks := NewLockPointsRepository(db)
	totals := NewPointsRepository(db)

	require.NoError(t, locks.Insert(ctx, lockRow(alice, 0, 2500)))

	err := locks.Insert(ctx, lockRow(alice, 0, 9999))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrStoreConflict))

	assert.InDelta(t, 2500.0, totalOf(t, totals, alice), 1e-9)
	count, err := locks.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpsertRetryAddsNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	locks := NewLockPointsRepository(db)
	totals := NewPointsRepository(db)

	delta, err := locks.Upsert(ctx, lockRow(bob, 3, 12.5))
	require.NoError(t, err)
	assert.InDelta(t, 12.5, delta, 1e-9)

	delta, err = locks.Upsert(ctx, lockRow(bob, 3, 12.5))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, delta, 1e-9)
	assert.InDelta(t, 12.5, totalOf(t, totals, bob), 1e-9)

	delta, err = locks.Upsert(ctx, lockRow(bob, 3, 20))
	require.NoError(t, err)
	assert.InDelta(t, 7.5, delta, 1e-9)
	assert.InDelta(t, 20.0, totalOf(t, totals, bob), 1e-9)

	rec, err := locks.GetByUserAndIndex(ctx, bob, 3)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 20.0, rec.PointsEarned, 1e-9)
}

func TestGetByUserMissing(t *testing.T) {
	totals := NewPointsRepository(newTestDB(t))

	row, err := totals.GetByUser(context.Background(), alice)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestTopOrdersByTotal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	totals := NewPointsRepository(db)

	require.NoError(t, totals.AddPoints(ctx, alice, 5))
	require.NoError(t, totals.AddPoints(ctx, bob, 50))
	require.NoError(t, totals.AddPoints(ctx, alice, 1))

	top, err := totals.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, bob, top[0].UserAddress)
	assert.Equal(t, alice, top[1].UserAddress)
	assert.InDelta(t, 6.0, top[1].TotalPoints, 1e-9)

	top, err = totals.Top(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	count, err := totals.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSumByUserAndRecomputeTotal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	locks := NewLockPointsRepository(db)
	totals := NewPointsRepository(db)

	require.NoError(t, locks.Insert(ctx, lockRow(alice, 0, 10)))
	require.NoError(t, locks.Insert(ctx, lockRow(alice, 1, 15)))
	require.NoError(t, locks.Insert(ctx, lockRow(bob, 0, 1)))

	// drift the stored total
	require.NoError(t, totals.AddPoints(ctx, alice, 100))

	sums, err := locks.SumByUser(ctx)
	require.NoError(t, err)
	byUser := map[string]float64{}
	for _, s := range sums {
		byUser[s.UserAddress] = s.Total
	}
	assert.InDelta(t, 25.0, byUser[alice], 1e-9)
	assert.InDelta(t, 1.0, byUser[bob], 1e-9)

	before, after, err := totals.RecomputeTotal(ctx, alice)
	require.NoError(t, err)
	assert.InDelta(t, 125.0, before, 1e-9)
	assert.InDelta(t, byUser[alice], after, 1e-9)
	assert.InDelta(t, 25.0, totalOf(t, totals, alice), 1e-9)

	// a total with no scored locks behind it is reset to zero
	require.NoError(t, totals.AddPoints(ctx, "0x3333333333333333333333333333333333333333", 9))
	before, after, err = totals.RecomputeTotal(ctx, "0x3333333333333333333333333333333333333333")
	require.NoError(t, err)
	assert.InDelta(t, 9.0, before, 1e-9)
	assert.Zero(t, after)

	list, err := locks.ListByUser(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(0), list[0].LockIndex)
	assert.Equal(t, uint64(1), list[1].LockIndex)
}

func TestRunRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	runs := NewRunRepository(db)

	last, err := runs.Last(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	start := time.Now().Add(-time.Minute)
	require.NoError(t, runs.Create(ctx, &models.BackfillRun{
		Trigger:    models.RunTriggerCron,
		State:      models.RunStateFailed,
		Error:      "rpc down",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}))
	require.NoError(t, runs.Create(ctx, &models.BackfillRun{
		Trigger:    models.RunTriggerManual,
		State:      models.RunStateDone,
		Stats:      models.JSONB{"processed": 3},
		StartedAt:  start.Add(10 * time.Second),
		FinishedAt: start.Add(20 * time.Second),
	}))

	last, err = runs.Last(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, models.RunStateDone, last.State)
	assert.EqualValues(t, 3, last.Stats["processed"])

	list, err := runs.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.RunTriggerManual, list[0].Trigger)
	assert.Equal(t, "rpc down", list[1].Error)
}

func TestBlockRepositoryCursorOnlyAdvances(t *testing.T) {
	blocks := NewBlockRepository(newTestDB(t))
	ctx := context.Background()

	last, err := blocks.GetLastProcessed(ctx, "pulsechain")
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, blocks.MarkProcessed(ctx, "pulsechain", 200))
	require.NoError(t, blocks.MarkProcessed(ctx, "pulsechain", 150))

	last, err = blocks.GetLastProcessed(ctx, "pulsechain")
	require.NoError(t, err)
	assert.Equal(t, int64(200), last)

	last, err = blocks.GetLastProcessed(ctx, "sepolia")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestBackupRepositoryLatest(t *testing.T) {
	backups := NewBackupRepository(newTestDB(t))
	ctx := context.Background()

	latest, err := backups.Latest(ctx, models.BackupTypePointsSnapshot)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, backups.Create(ctx, &models.CalculationBackup{
		BackupType: models.BackupTypePointsSnapshot,
		BackupData: models.JSONB{alice: 1.5},
	}))
	require.NoError(t, backups.Create(ctx, &models.CalculationBackup{
		BackupType: models.BackupTypePointsSnapshot,
		BackupData: models.JSONB{alice: 2.5},
	}))

	latest, err = backups.Latest(ctx, models.BackupTypePointsSnapshot)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2.5, latest.BackupData[alice])
}
