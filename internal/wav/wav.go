package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	headerSize    = 44
	formatPCM     = 1
	bitsPerSample = 16
)

// ErrInvalid is returned for data that is not a PCM WAV document.
var ErrInvalid = errors.New("invalid wav data")

// Format describes the PCM layout of a WAV document.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

// Duration returns the playback length described by the format.
func (f Format) Duration() float64 {
	frame := f.Channels * f.BitsPerSample / 8
	if f.SampleRate <= 0 || frame <= 0 {
		return 0
	}
	return float64(f.DataBytes/frame) / float64(f.SampleRate)
}

// Encode wraps 16-bit mono samples in a canonical WAV header.
func Encode(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, headerSize+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], bitsPerSample)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[headerSize+2*i:], uint16(s))
	}
	return buf
}

// Inspect parses the RIFF chunks of data and returns its PCM format.
func Inspect(data []byte) (Format, error) {
	_, format, err := parse(data)
	return format, err
}

// Duration returns the playback length of a WAV document in seconds.
func Duration(data []byte) (float64, error) {
	format, err := Inspect(data)
	if err != nil {
		return 0, err
	}
	return format.Duration(), nil
}

// Decode returns the samples of a 16-bit mono WAV document and its sample
// rate.
func Decode(data []byte) ([]int16, int, error) {
	pcm, format, err := parse(data)
	if err != nil {
		return nil, 0, err
	}
	if format.Channels != 1 || format.BitsPerSample != bitsPerSample {
		return nil, 0, fmt.Errorf("%w: want 16-bit mono, got %d-bit %d channels", ErrInvalid, format.BitsPerSample, format.Channels)
	}
	return BytesToInt16(pcm), format.SampleRate, nil
}

func parse(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalid)
	}
	var (
		format  Format
		haveFmt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(data) {
			if id == "data" {
				// Streams written without a final size still carry usable PCM.
				size = len(data) - body
			} else {
				return nil, Format{}, fmt.Errorf("%w: chunk %q overruns data", ErrInvalid, id)
			}
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalid)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != formatPCM {
				return nil, Format{}, fmt.Errorf("%w: unsupported format tag %d", ErrInvalid, tag)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalid)
			}
			format.DataBytes = size
			return data[body : body+size], format, nil
		}
		offset = body + size + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrInvalid)
}

// BytesToInt16 converts little-endian PCM bytes to samples. A trailing odd
// byte is dropped.
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// FromFloat32 converts [-1, 1] samples to 16-bit PCM, clamping out-of-range
// values.
func FromFloat32(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * math.MaxInt16)
	}
	return out
}

// Silence returns ms milliseconds of zero samples at sampleRate.
func Silence(ms, sampleRate int) []int16 {
	if ms <= 0 || sampleRate <= 0 {
		return nil
	}
	return make([]int16, int64(ms)*int64(sampleRate)/1000)
}

// Resample converts samples from one rate to another by linear
// interpolation.
func Resample(samples []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		v := float64(samples[j])*(1-frac) + float64(samples[j+1])*frac
		out[i] = int16(math.Round(v))
	}
	return out
}
