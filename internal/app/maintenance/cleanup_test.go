package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/breachrange/internal/cache"
	"github.com/charlesng35/breachrange/internal/database/testutil"
	"github.com/charlesng35/breachrange/internal/monitoring"
)

type countingPruner struct {
	calls atomic.Int32
	err   error
}

func (p *countingPruner) Prune(ctx context.Context) (int64, error) {
	p.calls.Add(1)
	return 3, p.err
}

func TestCleanerRunOncePrunesDatabaseCache(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate(), testutil.WithPool(1))

	now := time.Date(2024, 2, 10, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := cache.NewDatabaseStore(db, cache.Options{StaleRetention: time.Hour, Now: clock})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "hibp:AAAAA", []byte(`[]`), time.Minute))
	require.NoError(t, store.Set(ctx, "hibp:BBBBB", []byte(`[]`), 48*time.Hour))

	now = now.Add(3 * time.Hour)
	cleaner := NewCleaner(store)
	require.True(t, cleaner.Enabled())
	require.NoError(t, cleaner.RunOnce(ctx))

	var count int64
	require.NoError(t, db.Table("cache_entries").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCleanerRunOnceReportsFailure(t *testing.T) {
	mod, err := monitoring.NewModule(monitoring.Options{})
	require.NoError(t, err)
	monitoring.SetModule(mod)

	pruner := &countingPruner{err: errors.New("database is locked")}
	cleaner := NewCleaner(pruner)

	err = cleaner.RunOnce(context.Background())
	require.ErrorContains(t, err, "cache_prune: database is locked")

	summary := monitoring.Snapshot()
	require.Len(t, summary.Maintenance.Jobs, 1)
	require.Equal(t, "failure", summary.Maintenance.Jobs[0].LastStatus)
}

func TestCleanerWithoutPrunerIsDisabled(t *testing.T) {
	cleaner := NewCleaner(nil)
	require.False(t, cleaner.Enabled())
	require.NoError(t, cleaner.Start())
	require.NoError(t, cleaner.RunOnce(context.Background()))
	<-cleaner.Stop().Done()
}

func TestCleanerStartSchedulesJob(t *testing.T) {
	pruner := &countingPruner{}
	scheduler := cron.New(cron.WithSeconds(), cron.WithLogger(cron.DiscardLogger))
	cleaner := NewCleaner(pruner, WithCron(scheduler), WithCachePruneSchedule("* * * * * *"))

	require.NoError(t, cleaner.Start())
	t.Cleanup(func() { <-cleaner.Stop().Done() })

	require.Len(t, scheduler.Entries(), 1)
	require.Eventually(t, func() bool { return pruner.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	cleaner := NewCleaner(&countingPruner{}, WithCachePruneSchedule("not a schedule"))
	require.Error(t, cleaner.Start())
}
