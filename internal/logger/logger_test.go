package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatRFC3339Millis(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("x", 3600))
	require.Equal(t, "2026-03-04T04:06:07.891Z", formatRFC3339Millis(ts))
}

func TestNewWithWriter_DropsEmptyStrings(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Info("poller: started", "job_id", "job-1", "empty", "")
	log.Debug("hidden")

	out := buf.String()
	require.Contains(t, out, "poller: started")
	require.Contains(t, out, "job-1")
	require.NotContains(t, out, "empty")
	require.NotContains(t, out, "hidden")
}
