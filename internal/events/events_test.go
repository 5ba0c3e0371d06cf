package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/logging"
	"github.com/agentstation/fieldsync/pkg/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func completedEvent() engine.Event {
	return engine.Event{
		Type:         constants.EventSyncCompleted,
		SyncRunID:    "run-1",
		TabMappingID: "tab-1",
		Status:       models.RunCompleted,
		TriggeredBy:  "cli",
		Stats:        &models.SyncStats{RowsProcessed: 3, RowsCreated: 2, RowsSkipped: 1},
		At:           time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC),
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaEmit(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafka(w, "fieldsync.sync", logging.NewNopLogger())

	sink.Emit(context.Background(), completedEvent())

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "run-1", string(msg.Key))
	assert.Equal(t, constants.EventSyncCompleted, header(msg, "event_type"))
	assert.Equal(t, "tab-1", header(msg, "tab_mapping_id"))
	assert.Equal(t, SchemaVersion, header(msg, "schema_version"))

	var got engine.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, models.RunCompleted, got.Status)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 2, got.Stats.RowsCreated)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaEmitFailureIsLogged(t *testing.T) {
	tl := logging.NewTestLogger(t)
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafka(w, "fieldsync.sync", tl.Logger)

	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), completedEvent())
	})
	tl.AssertContains(t, "Failed to publish sync event")
	tl.AssertContains(t, "broker down")
}

func TestKafkaEmitIgnoresCanceledContext(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafka(w, "fieldsync.sync", logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, completedEvent())
	assert.Len(t, w.msgs, 1)
}

func TestLogSink(t *testing.T) {
	tl := logging.NewTestLogger(t)
	NewLog(tl.Logger).Emit(context.Background(), completedEvent())

	tl.AssertContains(t, `"event":"sync.completed"`)
	tl.AssertContains(t, `"rows_created":2`)
	tl.AssertNotContains(t, `"error"`)
}

func TestFanout(t *testing.T) {
	a, b := &fakeWriter{}, &fakeWriter{}
	f := Fanout{
		newKafka(a, "t", logging.NewNopLogger()),
		Nop{},
		newKafka(b, "t", logging.NewNopLogger()),
	}
	f.Emit(context.Background(), completedEvent())
	assert.Len(t, a.msgs, 1)
	assert.Len(t, b.msgs, 1)
}

func TestNewKafkaConfiguresWriter(t *testing.T) {
	sink := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "fieldsync.sync", Compression: "gzip"}, logging.NewNopLogger())
	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "fieldsync.sync", w.Topic)
	assert.True(t, w.Async)
	assert.Equal(t, kafka.Gzip, w.Compression)
	assert.Equal(t, 100*time.Millisecond, w.BatchTimeout)
}
