package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/tsdiff/pkg/stream"
	"github.com/vjranagit/tsdiff/pkg/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func TestLoadRunWithHeader(t *testing.T) {
	path := writeFile(t, "run.csv", "time,speed,rpm\n0,10,100\n1,20,200\n2,30,300\n")

	run, err := LoadRun(path)
	require.NoError(t, err)

	assert.Equal(t, "run", run.DisplayName)
	assert.Equal(t, []float64{0, 1, 2}, run.Time)
	require.Contains(t, run.Signals, "speed")
	require.Contains(t, run.Signals, "rpm")
	assert.Equal(t, []float64{10, 20, 30}, run.Signals["speed"].Data)
	assert.Equal(t, []float64{100, 200, 300}, run.Signals["rpm"].Data)
	assert.Equal(t, 3, run.Meta.SampleCount)
	assert.Equal(t, 1.0, run.Meta.MeanDT)
}

func TestLoadRunHeaderless(t *testing.T) {
	path := writeFile(t, "plain.csv", "0,1.5\n1,2.5\n2,3.5\n")

	run, err := LoadRun(path)
	require.NoError(t, err)

	// First column becomes time, the rest get synthesized names.
	assert.Equal(t, []float64{0, 1, 2}, run.Time)
	require.Contains(t, run.Signals, "col1")
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, run.Signals["col1"].Data)
}

func TestLoadRunDelimiterSniffing(t *testing.T) {
	semicolon := writeFile(t, "semi.csv", "time;x\n0;1\n1;2\n")
	tab := writeFile(t, "tab.csv", "time\tx\n0\t1\n1\t2\n")

	for _, path := range []string{semicolon, tab} {
		run, err := LoadRun(path)
		require.NoError(t, err, path)
		assert.Equal(t, []float64{0, 1}, run.Time, path)
		assert.Equal(t, []float64{1, 2}, run.Signals["x"].Data, path)
	}
}

func TestLoadRunTimeColumnByName(t *testing.T) {
	path := writeFile(t, "named.csv", "speed,Timestamp\n10,0\n20,1\n")

	run, err := LoadRun(path)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1}, run.Time)
	assert.Equal(t, []float64{10, 20}, run.Signals["speed"].Data)
}

func TestLoadRunDropsMalformedRows(t *testing.T) {
	path := writeFile(t, "messy.csv", "time,x\n0,1\nnot,numeric\n1,2\n2\n3,4\n")

	run, err := LoadRun(path)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 3}, run.Time)
	assert.Equal(t, []float64{1, 2, 4}, run.Signals["x"].Data)
}

func TestLoadRunDropsTimeRegressions(t *testing.T) {
	path := writeFile(t, "regress.csv", "time,x\n0,1\n5,2\n3,99\n6,3\n")

	run, err := LoadRun(path)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 5, 6}, run.Time)
	assert.Equal(t, []float64{1, 2, 3}, run.Signals["x"].Data)
}

func TestStateKindDetection(t *testing.T) {
	path := writeFile(t, "kinds.csv", "time,gear,speed\n0,1,10.5\n1,2,11.2\n2,2,12.8\n3,3,13.1\n")

	run, err := LoadRun(path)
	require.NoError(t, err)

	assert.Equal(t, types.KindState, run.Signals["gear"].Kind)
	assert.Equal(t, types.KindNormal, run.Signals["speed"].Kind)
}

func TestIncrementalRead(t *testing.T) {
	path := writeFile(t, "live.csv", "time,x\n0,1\n1,2\n")

	src, run, err := OpenCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, src.RowCount())
	assert.Equal(t, []float64{0, 1}, run.Time)

	// Nothing appended yet.
	delta, err := src.ReadNewRows()
	require.NoError(t, err)
	assert.Equal(t, 0, delta.Rows())

	appendFile(t, path, "2,3\n3,4\n")

	delta, err = src.ReadNewRows()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, delta.Time)
	assert.Equal(t, []float64{3, 4}, delta.Signals["x"])
	assert.Equal(t, 4, src.RowCount())

	// Already consumed rows are not re-read.
	delta, err = src.ReadNewRows()
	require.NoError(t, err)
	assert.Equal(t, 0, delta.Rows())
}

func TestIncrementalReadPartialLine(t *testing.T) {
	path := writeFile(t, "partial.csv", "time,x\n0,1\n")

	src, _, err := OpenCSV(path)
	require.NoError(t, err)

	// A half-written line stays pending until its newline arrives.
	appendFile(t, path, "1,")
	delta, err := src.ReadNewRows()
	require.NoError(t, err)
	assert.Equal(t, 0, delta.Rows())

	appendFile(t, path, "2\n")
	delta, err = src.ReadNewRows()
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, delta.Time)
	assert.Equal(t, []float64{2}, delta.Signals["x"])
}

func TestIncrementalReadTruncation(t *testing.T) {
	path := writeFile(t, "shrunk.csv", "time,x\n0,1\n1,2\n2,3\n")

	src, _, err := OpenCSV(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("time,x\n0,9\n"), 0644))

	_, err = src.ReadNewRows()
	assert.ErrorIs(t, err, stream.ErrTruncated)

	run, err := src.Reload()
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, run.Time)
	assert.Equal(t, []float64{9}, run.Signals["x"].Data)
	assert.Equal(t, 1, src.RowCount())
}

func TestLoadRunMissingFile(t *testing.T) {
	_, err := LoadRun(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
