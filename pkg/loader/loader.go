// Package loader reads CSV run files, handling delimiter sniffing, header
// detection, time-column selection, and incremental reads for live files.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vjranagit/tsdiff/pkg/types"
)

// stateMaxDistinct bounds how many distinct values an integral column may
// take and still be classified as a state signal.
const stateMaxDistinct = 20

// timeColumnNames are the header names recognized as the time column, in
// preference order and compared case-insensitively.
var timeColumnNames = []string{"time", "t", "timestamp", "time_s", "seconds"}

// layout describes a parsed file's structure, reused by incremental reads
type layout struct {
	delim     rune
	hasHeader bool
	columns   []string
	timeCol   int
}

// LoadRun reads a whole CSV file into a Run. Malformed and short rows are
// dropped so the run always satisfies len(Time) == len(Data) for every
// signal; rows whose time value regresses are dropped as well to keep the
// time vector non-decreasing.
func LoadRun(path string) (*types.Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run: %w", err)
	}
	defer f.Close()

	run, _, _, err := parseRun(f, path)
	return run, err
}

func parseRun(r io.Reader, path string) (*types.Run, *layout, int64, error) {
	br := newReplayReader(r)

	lay, err := sniffLayout(br)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("sniff %s: %w", filepath.Base(path), err)
	}
	br.rewind()

	cr := csv.NewReader(br)
	cr.Comma = lay.delim
	cr.FieldsPerRecord = -1

	if lay.hasHeader {
		if _, err := cr.Read(); err != nil {
			return nil, nil, 0, fmt.Errorf("read header: %w", err)
		}
	}

	timeVec := []float64{}
	columns := make([][]float64, len(lay.columns))
	for i := range columns {
		columns[i] = []float64{}
	}

	offset := cr.InputOffset()
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed rows are dropped, not fatal. The offset stays put
			// so a partially appended last line is retried on the next
			// incremental read; a complete later row skips past it.
			continue
		}
		if consumed := appendRecord(record, lay, &timeVec, columns); consumed {
			offset = cr.InputOffset()
		}
	}

	run := buildRun(path, lay, timeVec, columns)
	return run, lay, offset, nil
}

// appendRecord parses one data row. It reports whether the record was a
// complete numeric row; rows whose time regresses are consumed but not
// kept, preserving the non-decreasing time invariant.
func appendRecord(record []string, lay *layout, timeVec *[]float64, columns [][]float64) bool {
	if len(record) != len(lay.columns)+1 {
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
	tv := values[lay.timeCol]
	if n := len(*timeVec); n > 0 && tv < (*timeVec)[n-1] {
		return true
	}
	*timeVec = append(*timeVec, tv)
	col := 0
	for i, v := range values {
		if i == lay.timeCol {
			continue
		}
		columns[col] = append(columns[col], v)
		col++
	}
	return true
}

func buildRun(path string, lay *layout, timeVec []float64, columns [][]float64) *types.Run {
	run := &types.Run{
		Path:        path,
		DisplayName: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Time:        timeVec,
		Signals:     make(map[string]*types.Signal, len(lay.columns)),
	}
	for i, name := range lay.columns {
		run.Signals[name] = &types.Signal{
			Name: name,
			Data: columns[i],
			Kind: classifyKind(columns[i]),
		}
	}
	run.RefreshMeta()
	return run
}

// classifyKind marks integral, low-cardinality columns as state signals
func classifyKind(data []float64) types.SignalKind {
	if len(data) == 0 {
		return types.KindNormal
	}
	distinct := make(map[float64]struct{})
	for _, v := range data {
		if v != float64(int64(v)) {
			return types.KindNormal
		}
		distinct[v] = struct{}{}
		if len(distinct) > stateMaxDistinct {
			return types.KindNormal
		}
	}
	return types.KindState
}

// sniffLayout inspects the first lines to pick delimiter, header presence,
// column names, and the time column.
func sniffLayout(r io.Reader) (*layout, error) {
	head := make([]byte, 8192)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	head = head[:n]
	if len(head) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	lines := strings.Split(string(head), "\n")
	first := strings.TrimRight(lines[0], "\r")

	delim := sniffDelimiter(first)
	cells := splitLine(first, delim)

	hasHeader := false
	for _, cell := range cells {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil && strings.TrimSpace(cell) != "" {
			hasHeader = true
			break
		}
	}

	names := make([]string, len(cells))
	if hasHeader {
		for i, cell := range cells {
			names[i] = strings.TrimSpace(cell)
		}
	} else {
		for i := range cells {
			names[i] = fmt.Sprintf("col%d", i)
		}
	}

	timeCol := pickTimeColumn(names, hasHeader)

	columns := make([]string, 0, len(names)-1)
	for i, name := range names {
		if i == timeCol {
			continue
		}
		columns = append(columns, name)
	}
	return &layout{delim: delim, hasHeader: hasHeader, columns: columns, timeCol: timeCol}, nil
}

// sniffDelimiter picks whichever of comma, semicolon, and tab splits the
// line into the most cells.
func sniffDelimiter(line string) rune {
	best, bestCount := ',', strings.Count(line, ",")
	if c := strings.Count(line, ";"); c > bestCount {
		best, bestCount = ';', c
	}
	if c := strings.Count(line, "\t"); c > bestCount {
		best = '\t'
	}
	return best
}

func splitLine(line string, delim rune) []string {
	return strings.Split(line, string(delim))
}

// pickTimeColumn prefers a recognized header name, falling back to the
// first column.
func pickTimeColumn(names []string, hasHeader bool) int {
	if hasHeader {
		for _, want := range timeColumnNames {
			for i, name := range names {
				if strings.EqualFold(name, want) {
					return i
				}
			}
		}
	}
	return 0
}

// replayReader buffers what it reads so the sniffing pass can be replayed
// for the real parse.
type replayReader struct {
	src      io.Reader
	buf      []byte
	replay   []byte
	buffered bool
}

func newReplayReader(src io.Reader) *replayReader {
	return &replayReader{src: src, buffered: true}
}

func (r *replayReader) Read(p []byte) (int, error) {
	if len(r.replay) > 0 {
		n := copy(p, r.replay)
		r.replay = r.replay[n:]
		return n, nil
	}
	n, err := r.src.Read(p)
	if r.buffered && n > 0 {
		r.buf = append(r.buf, p[:n]...)
	}
	return n, err
}

// rewind replays everything consumed so far and stops buffering
func (r *replayReader) rewind() {
	r.replay = append(r.buf, r.replay...)
	r.buf = nil
	r.buffered = false
}
