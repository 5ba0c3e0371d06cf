package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/internal/metrics"
	"github.com/agentstation/fieldsync/pkg/models"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := metrics.New(reg)

	r.ObserveRun(models.RunCompleted, 2*time.Second)
	r.ObserveRun(models.RunCompleted, time.Second)
	r.ObserveRun(models.RunFailed, time.Second)
	r.AddChanges(models.ChangeCreate, 3)
	r.AddChanges(models.ChangeSkip, 0)
	r.AddWeekly(models.UpsertCreated, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.RowChanges.WithLabelValues("create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.WeeklyUpserts.WithLabelValues("created")))

	n, err := testutil.GatherAndCount(reg, "fieldsync_sync_row_changes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "zero adds create no series")

	assert.Panics(t, func() { metrics.New(reg) }, "collectors register once per registry")
}
