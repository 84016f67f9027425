package exslim

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := newRecorder(slog.NewTextHandler(&buf, nil))
	logger := slog.New(rec).With("run", "r1")

	logger.Debug("dropped")
	logger.WithGroup("img").Info("recompressed", "part", "xl/media/image1.png", "error", errors.New("boom"))
	logger.Warn("careful", slog.Group("size", "before", 10, "after", 5))

	events := rec.Events()
	require.Len(t, events, 2)

	assert.Equal(t, "INFO", events[0].Level)
	assert.Equal(t, "recompressed", events[0].Message)
	assert.Equal(t, map[string]any{"run": "r1", "img.part": "xl/media/image1.png", "img.error": "boom"}, events[0].Attrs)

	assert.Equal(t, "WARN", events[1].Level)
	assert.Equal(t, int64(10), events[1].Attrs["size.before"])
	assert.Equal(t, int64(5), events[1].Attrs["size.after"])

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "careful")
}

func TestRecorder_SharedAcrossDerivedLoggers(t *testing.T) {
	rec := newRecorder(slog.DiscardHandler)
	base := slog.New(rec)
	base.With("stage", "names").Info("a")
	base.With("stage", "images").Info("b")

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "names", events[0].Attrs["stage"])
	assert.Equal(t, "images", events[1].Attrs["stage"])
}
