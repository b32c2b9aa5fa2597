// Package audio converts between wire-level PCM byte streams and the float32
// sample buffers the bridge processes.
//
// All encodings are little-endian. Decoders reuse the capacity of the
// destination slice they are given so a per-stream buffer can be recycled
// block after block.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding identifies a wire sample encoding.
type Encoding string

const (
	// Float32LE is IEEE-754 binary32, little-endian. Four bytes per sample.
	Float32LE Encoding = "f32le"

	// Int16LE is signed 16-bit PCM, little-endian. Two bytes per sample.
	// Samples are scaled to [-1, 1) on decode.
	Int16LE Encoding = "s16le"
)

// ParseEncoding returns the Encoding named s. The empty string selects
// Float32LE.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", Float32LE:
		return Float32LE, nil
	case Int16LE:
		return Int16LE, nil
	}
	return "", fmt.Errorf("audio: unknown encoding %q", s)
}

// BytesPerSample returns the encoded width of one sample.
func (e Encoding) BytesPerSample() int {
	if e == Int16LE {
		return 2
	}
	return 4
}

// Decode converts b into samples, reusing dst's capacity.
func (e Encoding) Decode(dst []float32, b []byte) ([]float32, error) {
	if e == Int16LE {
		return DecodeInt16LE(dst, b)
	}
	return DecodeFloat32LE(dst, b)
}

// Encode appends the encoding of samples to dst.
func (e Encoding) Encode(dst []byte, samples []float32) []byte {
	if e == Int16LE {
		return EncodeInt16LE(dst, samples)
	}
	return EncodeFloat32LE(dst, samples)
}

// DecodeFloat32LE converts little-endian float32 bytes into samples.
func DecodeFloat32LE(dst []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return dst[:0], fmt.Errorf("audio: %d bytes is not a whole number of float32 samples", len(b))
	}
	dst = grow(dst, len(b)/4)
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return dst, nil
}

// EncodeFloat32LE appends samples to dst as little-endian float32.
func EncodeFloat32LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// DecodeInt16LE converts little-endian int16 PCM into samples in [-1, 1).
func DecodeInt16LE(dst []float32, b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return dst[:0], fmt.Errorf("audio: odd byte count %d in int16 PCM", len(b))
	}
	dst = grow(dst, len(b)/2)
	for i := range dst {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return dst, nil
}

// EncodeInt16LE appends samples to dst as little-endian int16 PCM. Samples
// outside [-1, 1] are clamped.
func EncodeInt16LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		v := math.Round(float64(s) * 32768)
		v = min(max(v, math.MinInt16), math.MaxInt16)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(v)))
	}
	return dst
}

// SplitPlanar slices a channel-major buffer into one view per channel. The
// views share buf's memory. dst's capacity is reused.
func SplitPlanar(dst [][]float32, buf []float32, channels int) ([][]float32, error) {
	if channels <= 0 {
		return dst[:0], fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if len(buf)%channels != 0 {
		return dst[:0], fmt.Errorf("audio: %d samples do not split into %d channels", len(buf), channels)
	}
	frames := len(buf) / channels
	dst = dst[:0]
	for ch := range channels {
		dst = append(dst, buf[ch*frames:(ch+1)*frames:(ch+1)*frames])
	}
	return dst, nil
}

func grow(dst []float32, n int) []float32 {
	if cap(dst) < n {
		return make([]float32, n)
	}
	return dst[:n]
}
