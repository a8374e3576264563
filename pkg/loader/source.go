package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vjranagit/tsdiff/pkg/stream"
	"github.com/vjranagit/tsdiff/pkg/types"
)

// CSVSource tracks a live CSV file for incremental reads. It remembers the
// file layout and the byte offset of the last fully consumed row, so only
// appended bytes are parsed on each cycle. It satisfies stream.RunSource.
type CSVSource struct {
	path string

	mu       sync.Mutex
	lay      *layout
	offset   int64
	rows     int
	lastTime float64
}

// OpenCSV loads the file and returns the source positioned at its end
func OpenCSV(path string) (*CSVSource, *types.Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open run: %w", err)
	}
	defer f.Close()

	run, lay, offset, err := parseRun(f, path)
	if err != nil {
		return nil, nil, err
	}

	src := &CSVSource{
		path:   path,
		lay:    lay,
		offset: offset,
		rows:   len(run.Time),
	}
	if n := len(run.Time); n > 0 {
		src.lastTime = run.Time[n-1]
	}
	return src, run, nil
}

// ID returns the source path
func (s *CSVSource) ID() string { return s.path }

// Stat reports the file's modification time and size
func (s *CSVSource) Stat() (time.Time, int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, 0, err
	}
	return info.ModTime(), info.Size(), nil
}

// RowCount reports the rows consumed so far
func (s *CSVSource) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// ReadNewRows parses the rows appended since the last read, advancing the
// consumed byte offset. It returns stream.ErrTruncated when the file
// shrank below that offset, which means the file was rewritten and must
// be reloaded.
func (s *CSVSource) ReadNewRows() (types.RunDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return types.RunDelta{}, fmt.Errorf("open for incremental read: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return types.RunDelta{}, err
	}
	if info.Size() < s.offset {
		return types.RunDelta{}, stream.ErrTruncated
	}

	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return types.RunDelta{}, err
	}

	cr := csv.NewReader(f)
	cr.Comma = s.lay.delim
	cr.FieldsPerRecord = -1

	delta := types.RunDelta{Signals: make(map[string][]float64, len(s.lay.columns))}
	for _, name := range s.lay.columns {
		delta.Signals[name] = []float64{}
	}

	var consumed int64
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if s.consumeRecord(record, &delta) {
			consumed = cr.InputOffset()
		}
	}

	s.offset += consumed
	s.rows += delta.Rows()
	return delta, nil
}

func (s *CSVSource) consumeRecord(record []string, delta *types.RunDelta) bool {
	if len(record) != len(s.lay.columns)+1 {
		return false
	}
	values := make([]float64, len(record))
	for i, cell := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return false
		}
		values[i] = v
	}
	tv := values[s.lay.timeCol]
	if tv < s.lastTime {
		return true // consumed but dropped, time regressed
	}
	s.lastTime = tv
	delta.Time = append(delta.Time, tv)
	col := 0
	for i, v := range values {
		if i == s.lay.timeCol {
			continue
		}
		delta.Signals[s.lay.columns[col]] = append(delta.Signals[s.lay.columns[col]], v)
		col++
	}
	return true
}

// Reload re-reads the whole file, resetting the incremental position
func (s *CSVSource) Reload() (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("reload run: %w", err)
	}
	defer f.Close()

	run, lay, offset, err := parseRun(f, s.path)
	if err != nil {
		return nil, err
	}
	s.lay = lay
	s.offset = offset
	s.rows = len(run.Time)
	s.lastTime = 0
	if n := len(run.Time); n > 0 {
		s.lastTime = run.Time[n-1]
	}
	return run, nil
}
