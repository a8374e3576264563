package session

import (
	"math"
	"testing"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(2)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer codec.Close()

	values := []float64{0, 0.1, 0.2, 0.30000000001, -5, math.Pi, 1e18, -1e-18}

	encoded, err := codec.EncodeVector(values)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := codec.DecodeVector(encoded, len(values))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(decoded) != len(values) {
		t.Fatalf("Expected %d values, got %d", len(values), len(decoded))
	}
	for i, v := range values {
		if decoded[i] != v {
			t.Errorf("Value %d: expected %v, got %v", i, v, decoded[i])
		}
	}
}

func TestVectorCodecEmpty(t *testing.T) {
	codec, err := NewCodec(1)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer codec.Close()

	encoded, err := codec.EncodeVector(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if encoded != nil {
		t.Errorf("Expected nil encoding for empty vector, got %d bytes", len(encoded))
	}

	decoded, err := codec.DecodeVector(nil, 0)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != nil {
		t.Errorf("Expected nil decoding, got %v", decoded)
	}
}

func TestVectorCodecCompressesSmoothSeries(t *testing.T) {
	codec, err := NewCodec(3)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer codec.Close()

	// A slowly varying signal should compress well below 8 bytes/sample.
	values := make([]float64, 10000)
	for i := range values {
		values[i] = 100.0
	}

	encoded, err := codec.EncodeVector(values)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(encoded) >= len(values)*8/4 {
		t.Errorf("Expected at least 4x compression, got %d bytes for %d samples", len(encoded), len(values))
	}
}
