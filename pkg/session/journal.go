package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal entry kinds
const (
	EntryRunAdded       = "run_added"
	EntryDerivedCreated = "derived_created"
	EntryCompareRun     = "compare_run"
)

// Entry is one JSONL journal record
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEntry builds a journal entry from any JSON-serializable payload
func NewEntry(kind string, payload interface{}) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal journal payload: %w", err)
	}
	return Entry{Timestamp: time.Now().UTC(), Kind: kind, Payload: raw}, nil
}

// Journal is an append-only JSONL log of session mutations, letting the
// working state be reconstructed between explicit snapshot saves.
type Journal struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewJournal opens (or creates) a journal file for appending
func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, file: file, writer: bufio.NewWriter(file)}, nil
}

// Append writes one entry
func (j *Journal) Append(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write journal newline: %w", err)
	}
	return nil
}

// Flush forces buffered entries to disk
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}

// Replay feeds every journal entry to handler in order. A missing journal
// file replays nothing.
func Replay(path string, handler func(Entry) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal for replay: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("unmarshal journal entry: %w", err)
		}
		if err := handler(entry); err != nil {
			return fmt.Errorf("replay %s entry: %w", entry.Kind, err)
		}
	}
	return scanner.Err()
}
