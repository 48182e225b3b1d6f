package statistics

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestRecordConversionConcurrent(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			format := "png"
			if i%2 == 0 {
				format = "jpg"
			}
			s.RecordConversion(format, 100, 40, i%5 == 0)
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.FilesConverted != 50 || snap.BytesIn != 5000 || snap.BytesOut != 2000 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.ResizesApplied != 10 {
		t.Errorf("resizes = %d, want 10", snap.ResizesApplied)
	}
	if snap.Formats["png"] != 25 || snap.Formats["jpg"] != 25 {
		t.Errorf("formats = %v", snap.Formats)
	}
}

func TestAddErrorKeepsRecent(t *testing.T) {
	s := NewStatistics()
	for i := 0; i < maxRecentErrors+5; i++ {
		s.AddError(fmt.Sprintf("f%d.png", i), "decode", "bad")
	}
	snap := s.Snapshot()
	if snap.FilesFailed != int64(maxRecentErrors+5) {
		t.Errorf("failed = %d", snap.FilesFailed)
	}
	if len(snap.RecentErrors) != maxRecentErrors || snap.RecentErrors[0].File != "f5.png" {
		t.Errorf("recent errors len=%d first=%q", len(snap.RecentErrors), snap.RecentErrors[0].File)
	}
	if !strings.Contains(s.GetErrorSummary(), "more errors") {
		t.Error("error summary not truncated")
	}
}

func TestSummaries(t *testing.T) {
	s := NewStatistics()
	if s.GetFormatBreakdown() != "No format statistics available" {
		t.Error("unexpected empty breakdown")
	}
	s.RecordConversion("webp", 2048, 1024, false)
	s.IncrementBatchesStarted()
	s.IncrementBatchesCompleted()

	summary := s.GetSummary()
	for _, want := range []string{"Converted: 1", "Completed: 1", "In: 2.0 KB", "Output/Input: 50.0%"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if !strings.Contains(s.GetFormatBreakdown(), "webp: 1") {
		t.Error("breakdown missing webp")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		1536:            "1.5 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
