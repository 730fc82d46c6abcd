// Package audio converts browser microphone audio into the format expected by
// server-side speech recognition.
package audio

import (
	"errors"
	"fmt"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// ErrEmptyAudio is returned for zero-length input.
var ErrEmptyAudio = errors.New("empty audio data")

// PCM16ToMulaw converts little-endian signed 16-bit mono PCM at inRate to
// G.711 μ-law at outRate.
func PCM16ToMulaw(pcm []byte, inRate, outRate int) ([]byte, error) {
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inRate, outRate)
	}

	samples = Resample(samples, inRate, outRate)

	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToMulaw(s)
	}
	return out, nil
}

// BytesToSamples decodes little-endian 16-bit samples.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even, got %d bytes", len(pcm))
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return samples, nil
}

// Resample changes the sample rate with linear interpolation. Good enough for
// speech recognition input; not meant for playback quality.
func Resample(samples []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(samples) == 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(outRate) / int64(inRate))
	out := make([]int16, n)
	step := float64(inRate) / float64(outRate)

	for i := range out {
		pos := float64(i) * step
		lo := int(pos)
		hi := lo + 1
		if hi >= len(samples) {
			hi = len(samples) - 1
		}
		frac := pos - float64(lo)
		out[i] = int16(float64(samples[lo])*(1-frac) + float64(samples[hi])*frac)
	}
	return out
}

// LinearToMulaw encodes one sample with the ITU-T G.711 μ-law curve.
func LinearToMulaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}
