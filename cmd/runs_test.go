package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 8, 8, 21, 30, 0, 0, time.UTC)
	runs := []model.ScrapeRun{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			DrawDate:  time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC),
			Status:    model.RunStatusComplete,
			SourceID:  "fdj",
			Attempts:  1,
			Duration:  1500 * time.Millisecond,
			CreatedAt: now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			DrawDate:  time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC),
			Status:    model.RunStatusFailed,
			Attempts:  3,
			ErrorCode: "ALL_SOURCES_FAILED",
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "2025-08-08")
	assert.Contains(t, output, "fdj")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "ALL_SOURCES_FAILED")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, store.RunStats{Total: 8, Complete: 6, Failed: 2})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "8")
	assert.Contains(t, output, "25.0%")
}

func TestFormatRunStats_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, store.RunStats{})
	assert.NotContains(t, buf.String(), "Failure rate")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
