/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package audio is the decode/encode boundary of the moderation core: it
// normalizes uploads to WAV for the remote backend and turns WAV payloads
// into samples for the local model. Waveform rendering happens elsewhere.
package audio

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	formatPCM   = 1
	formatFloat = 3
)

// Info describes a decoded WAV payload
type Info struct {
	SampleRate int
	Channels   int
	Duration   float64 // seconds
}

// EncodeWAV converts mono float32 samples to a 32-bit float WAV payload
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty sample data")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	dataSize := len(samples) * 4
	fileSize := 36 + dataSize

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeUint32(&buf, uint32(fileSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeUint32(&buf, 16) // fmt chunk size for PCM
	writeUint16(&buf, formatFloat)
	writeUint16(&buf, 1) // mono
	writeUint32(&buf, uint32(sampleRate))
	writeUint32(&buf, uint32(sampleRate*4)) // byte rate
	writeUint16(&buf, 4)                    // block align
	writeUint16(&buf, 32)                   // bits per sample
	buf.WriteString("data")
	writeUint32(&buf, uint32(dataSize))

	for _, sample := range samples {
		writeUint32(&buf, math.Float32bits(sample))
	}

	return buf.Bytes(), nil
}

// DecodeWAV parses a WAV payload into mono float32 samples. Multi-channel
// input is downmixed by averaging. Supports 16-bit PCM and 32-bit float.
func DecodeWAV(data []byte) ([]float32, int, error) {
	format, channels, sampleRate, bits, pcm, err := parseWAV(data)
	if err != nil {
		return nil, 0, err
	}

	var samples []float32
	switch {
	case format == formatFloat && bits == 32:
		samples = decodeFloat32(pcm)
	case format == formatPCM && bits == 16:
		samples = decodePCM16(pcm)
	default:
		return nil, 0, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", format, bits)
	}

	if channels > 1 {
		samples = downmix(samples, channels)
	}

	return samples, sampleRate, nil
}

// Inspect reads sample rate, channel count and duration without keeping
// the decoded samples
func Inspect(data []byte) (Info, error) {
	format, channels, sampleRate, bits, pcm, err := parseWAV(data)
	if err != nil {
		return Info{}, err
	}
	_ = format

	bytesPerSample := int(bits) / 8
	if bytesPerSample == 0 {
		return Info{}, fmt.Errorf("invalid bits per sample: %d", bits)
	}
	frames := len(pcm) / bytesPerSample / channels

	return Info{
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   float64(frames) / float64(sampleRate),
	}, nil
}

// Hash returns the SHA-256 hex digest of an audio payload, used for
// duplicate detection and transcription caching
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// parseWAV walks the RIFF chunks and returns the fmt fields plus raw data
func parseWAV(data []byte) (format, channels, sampleRate int, bits uint16, pcm []byte, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, 0, 0, 0, nil, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var haveFmt bool
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			return 0, 0, 0, 0, nil, fmt.Errorf("truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return 0, 0, 0, 0, nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			format = int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !haveFmt {
		return 0, 0, 0, 0, nil, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return 0, 0, 0, 0, nil, fmt.Errorf("missing data chunk")
	}
	if channels <= 0 || sampleRate <= 0 {
		return 0, 0, 0, 0, nil, fmt.Errorf("invalid fmt chunk: %d channels, %d Hz", channels, sampleRate)
	}

	return format, channels, sampleRate, bits, pcm, nil
}

func decodeFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(pcm[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

func decodePCM16(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(raw) / 32768.0
	}
	return samples
}

func downmix(samples []float32, channels int) []float32 {
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
