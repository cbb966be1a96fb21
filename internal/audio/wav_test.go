package audio

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := []float32{0.0, 0.5, -0.5, 1.0, -1.0, 0.25}
	const sampleRate = 16000

	wav, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	decoded, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}

	if rate != sampleRate {
		t.Errorf("sample rate = %d, want %d", rate, sampleRate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample[%d] = %v, want %v", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeWAV_Invalid(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("EncodeWAV(nil) expected error")
	}
	if _, err := EncodeWAV([]float32{0.1}, 0); err == nil {
		t.Error("EncodeWAV with zero sample rate expected error")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "Empty payload", data: nil},
		{name: "Not RIFF", data: []byte("this is definitely not audio data")},
		{name: "Truncated header", data: []byte("RIFF")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("DecodeWAV() expected error for malformed payload")
			}
		})
	}
}

func TestInspect(t *testing.T) {
	const sampleRate = 8000
	samples := make([]float32, sampleRate*2) // 2 seconds of silence

	wav, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	info, err := Inspect(wav)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	if info.SampleRate != sampleRate {
		t.Errorf("SampleRate = %d, want %d", info.SampleRate, sampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Channels = %d, want 1", info.Channels)
	}
	if math.Abs(info.Duration-2.0) > 1e-9 {
		t.Errorf("Duration = %v, want 2.0", info.Duration)
	}
}

func TestHash_DeterministicAndDistinct(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 5}

	if Hash(a) != Hash(a) {
		t.Error("Hash() not deterministic")
	}
	if Hash(a) == Hash(b) {
		t.Error("Hash() collision on different payloads")
	}
	if len(Hash(a)) != 64 {
		t.Errorf("Hash() length = %d, want 64 hex chars", len(Hash(a)))
	}
}
