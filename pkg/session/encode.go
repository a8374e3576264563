package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vjranagit/tsdiff/pkg/types"
)

// Codec compresses stored values and encodes float64 vectors. Vectors are
// XOR-encoded against the previous sample before zstd: consecutive samples
// of a physical signal share most of their bit pattern, so the XOR stream
// compresses far better than the raw floats.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec at the given compression level (1..4)
func NewCodec(level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Compress zstd-compresses raw bytes
func (c *Codec) Compress(raw []byte) []byte {
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))
}

// Decompress reverses Compress
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// EncodeVector encodes a float64 vector as XOR deltas + zstd
func (c *Codec) EncodeVector(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, math.Float64bits(values[0])); err != nil {
		return nil, err
	}
	prevBits := math.Float64bits(values[0])
	for i := 1; i < len(values); i++ {
		currentBits := math.Float64bits(values[i])
		if err := binary.Write(buf, binary.LittleEndian, currentBits^prevBits); err != nil {
			return nil, err
		}
		prevBits = currentBits
	}
	return c.Compress(buf.Bytes()), nil
}

// DecodeVector reverses EncodeVector for a vector of known length
func (c *Codec) DecodeVector(data []byte, count int) ([]float64, error) {
	if len(data) == 0 || count == 0 {
		return nil, nil
	}

	decompressed, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewReader(decompressed)
	values := make([]float64, count)

	var firstBits uint64
	if err := binary.Read(buf, binary.LittleEndian, &firstBits); err != nil {
		return nil, err
	}
	values[0] = math.Float64frombits(firstBits)

	prevBits := firstBits
	for i := 1; i < count; i++ {
		var xorBits uint64
		if err := binary.Read(buf, binary.LittleEndian, &xorBits); err != nil {
			return nil, err
		}
		currentBits := xorBits ^ prevBits
		values[i] = math.Float64frombits(currentBits)
		prevBits = currentBits
	}
	return values, nil
}

// Close releases the compressor resources
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// archivedRun is the stored form of a run archive
type archivedRun struct {
	Path        string                      `json:"path"`
	DisplayName string                      `json:"display_name"`
	Count       int                         `json:"count"`
	Time        []byte                      `json:"time"`
	Signals     map[string]archivedSignal   `json:"signals"`
	Display     map[string]types.Display    `json:"display,omitempty"`
	Kinds       map[string]types.SignalKind `json:"kinds,omitempty"`
}

type archivedSignal struct {
	Data []byte `json:"data"`
}

// ArchiveRun stores a run's full data so a snapshot referencing it stays
// loadable after the source file disappears. Returns the archive ID.
func (s *Store) ArchiveRun(ctx context.Context, run *types.Run) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	timeBytes, err := s.codec.EncodeVector(run.Time)
	if err != nil {
		return "", fmt.Errorf("archive time vector: %w", err)
	}
	arch := archivedRun{
		Path:        run.Path,
		DisplayName: run.DisplayName,
		Count:       len(run.Time),
		Time:        timeBytes,
		Signals:     make(map[string]archivedSignal, len(run.Signals)),
		Display:     make(map[string]types.Display, len(run.Signals)),
		Kinds:       make(map[string]types.SignalKind, len(run.Signals)),
	}
	for name, sig := range run.Signals {
		data, err := s.codec.EncodeVector(sig.Data)
		if err != nil {
			return "", fmt.Errorf("archive signal %q: %w", name, err)
		}
		arch.Signals[name] = archivedSignal{Data: data}
		arch.Display[name] = sig.Display
		arch.Kinds[name] = sig.Kind
	}

	raw, err := json.Marshal(arch)
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}

	id := uuid.NewString()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(archivePrefix+id), raw)
	})
	if err != nil {
		return "", fmt.Errorf("store archive: %w", err)
	}
	return id, nil
}

// LoadArchivedRun reconstructs a run from its archive
func (s *Store) LoadArchivedRun(ctx context.Context, id string) (*types.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(archivePrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load archive %s: %w", id, err)
	}

	var arch archivedRun
	if err := json.Unmarshal(raw, &arch); err != nil {
		return nil, fmt.Errorf("unmarshal archive %s: %w", id, err)
	}

	timeVec, err := s.codec.DecodeVector(arch.Time, arch.Count)
	if err != nil {
		return nil, fmt.Errorf("decode time vector: %w", err)
	}
	run := &types.Run{
		Path:        arch.Path,
		DisplayName: arch.DisplayName,
		Time:        timeVec,
		Signals:     make(map[string]*types.Signal, len(arch.Signals)),
	}
	for name, sig := range arch.Signals {
		data, err := s.codec.DecodeVector(sig.Data, arch.Count)
		if err != nil {
			return nil, fmt.Errorf("decode signal %q: %w", name, err)
		}
		run.Signals[name] = &types.Signal{
			Name:    name,
			Data:    data,
			Kind:    arch.Kinds[name],
			Display: arch.Display[name],
		}
	}
	run.RefreshMeta()
	return run, nil
}
