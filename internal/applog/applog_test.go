package applog

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_RetainsLinesKeyedByCRID(t *testing.T) {
	hub := NewHub(slog.NewTextHandler(io.Discard, nil))
	logger := slog.New(hub)

	logger.Info("stage entered", "cr_id", "cr-1", "stage", "intake")
	logger.Info("unrelated", "component", "bootstrap")
	logger.Warn("stage retried", "cr_id", "cr-1", "stage", "tdd")

	lines := hub.Tail("cr-1")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "stage entered")
	assert.Contains(t, lines[1], "stage retried")
}

func TestTail_UnknownCRIDReturnsEmpty(t *testing.T) {
	hub := NewHub(slog.NewTextHandler(io.Discard, nil))
	assert.Empty(t, hub.Tail("nonexistent"))
}

func TestHandle_EvictsOldestPastCapacity(t *testing.T) {
	hub := NewHub(slog.NewTextHandler(io.Discard, nil))
	logger := slog.New(hub)

	for i := 0; i < perRunCapacity+10; i++ {
		logger.Info("line", "cr_id", "cr-1", "i", i)
	}

	lines := hub.Tail("cr-1")
	assert.Len(t, lines, perRunCapacity)
	assert.Contains(t, lines[len(lines)-1], "i=")
}

func TestForget_DropsRetainedLines(t *testing.T) {
	hub := NewHub(slog.NewTextHandler(io.Discard, nil))
	logger := slog.New(hub)
	logger.Info("x", "cr_id", "cr-1")

	require.NotEmpty(t, hub.Tail("cr-1"))
	hub.Forget("cr-1")
	assert.Empty(t, hub.Tail("cr-1"))
}

func TestWithAttrs_SharesUnderlyingLogMap(t *testing.T) {
	hub := NewHub(slog.NewTextHandler(io.Discard, nil))
	scoped := slog.New(hub).With("component", "executor")

	scoped.Info("claimed run", "cr_id", "cr-2")

	assert.NotEmpty(t, hub.Tail("cr-2"), "a derived handler via WithAttrs must still feed the shared Hub")
}

func TestHandle_ConcurrentWritesAreRaceFree(t *testing.T) {
	hub := NewHub(slog.NewTextHandler(io.Discard, nil))
	logger := slog.New(hub)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("concurrent", "cr_id", "cr-3", "i", i)
		}(i)
	}
	wg.Wait()

	assert.Len(t, hub.Tail("cr-3"), 50)
}

