package engine

import "sort"

// SignalIndex is an inverted index from signal name to the runs carrying
// it. The engine maintains it on run add/remove/reload; it backs default
// compare batches and signal listings.
type SignalIndex struct {
	byName map[string]map[int]struct{}
}

// NewSignalIndex creates an empty index
func NewSignalIndex() *SignalIndex {
	return &SignalIndex{byName: make(map[string]map[int]struct{})}
}

// Add records that the run at runIdx carries the named signals
func (idx *SignalIndex) Add(runIdx int, names []string) {
	for _, name := range names {
		runs, ok := idx.byName[name]
		if !ok {
			runs = make(map[int]struct{})
			idx.byName[name] = runs
		}
		runs[runIdx] = struct{}{}
	}
}

// RunsWith returns the sorted run indices carrying the named signal
func (idx *SignalIndex) RunsWith(name string) []int {
	runs, ok := idx.byName[name]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(runs))
	for r := range runs {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// CommonSignals returns the sorted names present in both runs
func (idx *SignalIndex) CommonSignals(a, b int) []string {
	var out []string
	for name, runs := range idx.byName {
		_, inA := runs[a]
		_, inB := runs[b]
		if inA && inB {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SignalNames returns every indexed name, sorted
func (idx *SignalIndex) SignalNames() []string {
	out := make([]string, 0, len(idx.byName))
	for name := range idx.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clear empties the index
func (idx *SignalIndex) Clear() {
	idx.byName = make(map[string]map[int]struct{})
}
