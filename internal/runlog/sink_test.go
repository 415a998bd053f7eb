package runlog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Append(context.Context, *domain.LogEvent) error {
	return errors.New("db is down")
}

func TestSink_PersistsStepEvent(t *testing.T) {
	store := memory.New()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sink := New(Config{Store: store.Logs(), Now: func() time.Time { return now }})
	runID := uuid.New()

	sink.Info(context.Background(), Entry{
		RunID:        runID,
		PipelineName: "SamplePipeline",
		StepNumber:   2,
		StepName:     "Extract",
		Message:      "Extract completed: 3 rows",
		Details:      "RowsAffected: 3",
	})
	sink.Error(context.Background(), Entry{RunID: runID, PipelineName: "SamplePipeline", Message: "Pipeline failed: boom"})

	events, err := store.Logs().ListByRunID(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, domain.LogLevelInfo, first.Level)
	assert.Equal(t, now, first.LogAt)
	require.NotNil(t, first.StepNumber)
	assert.Equal(t, 2, *first.StepNumber)
	require.NotNil(t, first.Details)
	assert.Equal(t, "RowsAffected: 3", *first.Details)

	second := events[1]
	assert.Equal(t, domain.LogLevelError, second.Level)
	assert.Nil(t, second.StepNumber, "run-level events carry no step")
	assert.Nil(t, second.Details)
}

func TestSink_StoreFailureIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := New(Config{Store: failingStore{}, Logger: logger})

	assert.NotPanics(t, func() {
		sink.Warning(context.Background(), Entry{RunID: uuid.New(), Message: "hello"})
	})
	assert.True(t, strings.Contains(buf.String(), "failed to persist pipeline log"))
}

func TestSink_DefaultLevel(t *testing.T) {
	store := memory.New()
	sink := New(Config{Store: store.Logs()})
	runID := uuid.New()

	sink.Append(context.Background(), Entry{RunID: runID, Message: "no level"})

	events, err := store.Logs().ListByRunID(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.LogLevelInfo, events[0].Level)
}
