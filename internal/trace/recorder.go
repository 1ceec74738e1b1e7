// internal/trace/recorder.go

package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Recorder prints trace records and optionally appends them to a CSV file.
type Recorder struct {
	mu        sync.Mutex
	out       io.Writer
	quiet     map[Kind]bool
	csvFile   *os.File
	csvWriter *csv.Writer
	ch        chan Record
	totals    map[string]int64 // vsyncs seen per client
}

// NewRecorder creates a recorder writing lines to out (nil = discard).
func NewRecorder(out io.Writer, buffer int) *Recorder {
	if out == nil {
		out = io.Discard
	}
	return &Recorder{
		out:    out,
		quiet:  make(map[Kind]bool),
		ch:     make(chan Record, buffer),
		totals: make(map[string]int64),
	}
}

// EnableCSVLogging opens the given file path for CSV logging of records.
// Must be called before Run().
func (r *Recorder) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"time", "client", "event", "vsync_ts", "vsync_count", "detail"}); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	r.csvFile = f
	r.csvWriter = w
	return nil
}

// Quiet suppresses console lines (not CSV rows) for a kind.
func (r *Recorder) Quiet(k Kind) { r.quiet[k] = true }

// Emit queues a record; it drops the record rather than block a client.
func (r *Recorder) Emit(rec Record) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	select {
	case r.ch <- rec:
	default:
	}
}

// Close ends Run once the queue is drained.
func (r *Recorder) Close() { close(r.ch) }

// Run consumes records until Close.
func (r *Recorder) Run() error {
	for rec := range r.ch {
		r.handle(rec)
	}
	if r.csvFile != nil {
		r.csvWriter.Flush()
		if err := r.csvWriter.Error(); err != nil {
			r.csvFile.Close()
			return err
		}
		return r.csvFile.Close()
	}
	return nil
}

// Total returns how many vsyncs a client has reported.
func (r *Recorder) Total(client string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[client]
}

func (r *Recorder) handle(rec Record) {
	r.mu.Lock()
	if rec.Kind == KindVsync {
		r.totals[rec.Client]++
	}
	total := r.totals[rec.Client]
	r.mu.Unlock()

	if !r.quiet[rec.Kind] {
		// an auxiliary function to center the event kind in the output
		center := func(str string, width int) string {
			spaces := max((width-len(str))/2, 0)
			return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", max(width-(spaces+len(str)), 0))
		}
		fmt.Fprintf(r.out, "%s = [%s] %-10s vsync=%07d ts=%d total=%05d %s\n",
			rec.Time.Format("Jan 02 15:04:05.000"),
			center(rec.Kind.String(), 11),
			rec.Client,
			rec.Count,
			rec.Timestamp,
			total,
			rec.Detail,
		)
	}

	if r.csvWriter != nil {
		_ = r.csvWriter.Write([]string{
			rec.Time.Format(time.RFC3339Nano),
			rec.Client,
			rec.Kind.String(),
			strconv.FormatInt(rec.Timestamp, 10),
			strconv.FormatUint(uint64(rec.Count), 10),
			rec.Detail,
		})
		r.csvWriter.Flush()
	}
}
