package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics holds process-wide conversion counters.
type Statistics struct {
	RequestsTotal   int64
	FilesConverted  int64
	FilesFailed     int64
	BytesIn         int64
	BytesOut        int64
	ResizesApplied  int64
	PPMConversions  int64
	ValidationFails int64

	BatchesStarted   int64
	BatchesCompleted int64
	BatchesFailed    int64
	BatchesCancelled int64

	StartTime time.Time

	Errors []StatError

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// StatError represents an error that occurred during a conversion.
type StatError struct {
	File      string    `json:"file"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy safe to serialize.
type Snapshot struct {
	Uptime           string           `json:"uptime"`
	RequestsTotal    int64            `json:"requests_total"`
	FilesConverted   int64            `json:"files_converted"`
	FilesFailed      int64            `json:"files_failed"`
	BytesIn          int64            `json:"bytes_in"`
	BytesOut         int64            `json:"bytes_out"`
	ResizesApplied   int64            `json:"resizes_applied"`
	PPMConversions   int64            `json:"ppm_conversions"`
	ValidationFails  int64            `json:"validation_failures"`
	BatchesStarted   int64            `json:"batches_started"`
	BatchesCompleted int64            `json:"batches_completed"`
	BatchesFailed    int64            `json:"batches_failed"`
	BatchesCancelled int64            `json:"batches_cancelled"`
	Formats          map[string]int64 `json:"formats"`
	RecentErrors     []StatError      `json:"recent_errors"`
}

const maxRecentErrors = 50

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

func (s *Statistics) IncrementRequests() {
	atomic.AddInt64(&s.RequestsTotal, 1)
}

// RecordConversion counts one successful file conversion.
func (s *Statistics) RecordConversion(format string, in, out int, resized bool) {
	atomic.AddInt64(&s.FilesConverted, 1)
	atomic.AddInt64(&s.BytesIn, int64(in))
	atomic.AddInt64(&s.BytesOut, int64(out))
	if resized {
		atomic.AddInt64(&s.ResizesApplied, 1)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[format]++
}

func (s *Statistics) IncrementPPM() {
	atomic.AddInt64(&s.PPMConversions, 1)
}

func (s *Statistics) IncrementValidationFailures() {
	atomic.AddInt64(&s.ValidationFails, 1)
}

func (s *Statistics) IncrementBatchesStarted() {
	atomic.AddInt64(&s.BatchesStarted, 1)
}

func (s *Statistics) IncrementBatchesCompleted() {
	atomic.AddInt64(&s.BatchesCompleted, 1)
}

func (s *Statistics) IncrementBatchesFailed() {
	atomic.AddInt64(&s.BatchesFailed, 1)
}

func (s *Statistics) IncrementBatchesCancelled() {
	atomic.AddInt64(&s.BatchesCancelled, 1)
}

// AddError records a failed conversion. Only the most recent errors are
// kept.
func (s *Statistics) AddError(file, operation, errorMsg string) {
	atomic.AddInt64(&s.FilesFailed, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		File:      file,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
	if len(s.Errors) > maxRecentErrors {
		s.Errors = s.Errors[len(s.Errors)-maxRecentErrors:]
	}
}

// Snapshot copies the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	formats := make(map[string]int64, len(s.FormatStats))
	for k, v := range s.FormatStats {
		formats[k] = v
	}
	errs := make([]StatError, len(s.Errors))
	copy(errs, s.Errors)
	s.mutex.RUnlock()

	return Snapshot{
		Uptime:           time.Since(s.StartTime).Round(time.Second).String(),
		RequestsTotal:    atomic.LoadInt64(&s.RequestsTotal),
		FilesConverted:   atomic.LoadInt64(&s.FilesConverted),
		FilesFailed:      atomic.LoadInt64(&s.FilesFailed),
		BytesIn:          atomic.LoadInt64(&s.BytesIn),
		BytesOut:         atomic.LoadInt64(&s.BytesOut),
		ResizesApplied:   atomic.LoadInt64(&s.ResizesApplied),
		PPMConversions:   atomic.LoadInt64(&s.PPMConversions),
		ValidationFails:  atomic.LoadInt64(&s.ValidationFails),
		BatchesStarted:   atomic.LoadInt64(&s.BatchesStarted),
		BatchesCompleted: atomic.LoadInt64(&s.BatchesCompleted),
		BatchesFailed:    atomic.LoadInt64(&s.BatchesFailed),
		BatchesCancelled: atomic.LoadInt64(&s.BatchesCancelled),
		Formats:          formats,
		RecentErrors:     errs,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	ratio := 0.0
	if snap.BytesIn > 0 {
		ratio = float64(snap.BytesOut) * 100 / float64(snap.BytesIn)
	}
	return fmt.Sprintf(`Image Converter Statistics Summary:

Files:
		Requests: %d
		Converted: %d
		Failed: %d
		Resized: %d
		PPM Sources: %d
		Rejected: %d

Batches:
		Started: %d
		Completed: %d
		Failed: %d
		Cancelled: %d

Bytes:
		In: %s
		Out: %s
		Output/Input: %.1f%%

Uptime: %s`,
		snap.RequestsTotal,
		snap.FilesConverted,
		snap.FilesFailed,
		snap.ResizesApplied,
		snap.PPMConversions,
		snap.ValidationFails,
		snap.BatchesStarted,
		snap.BatchesCompleted,
		snap.BatchesFailed,
		snap.BatchesCancelled,
		formatBytes(snap.BytesIn),
		formatBytes(snap.BytesOut),
		ratio,
		snap.Uptime)
}

// GetFormatBreakdown returns the number of files produced per target
// format.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	keys := make([]string, 0, len(s.FormatStats))
	for k := range s.FormatStats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Format Breakdown:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %d\n", k, s.FormatStats[k])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.File,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
