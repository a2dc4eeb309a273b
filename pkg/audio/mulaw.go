// Package audio provides the codec utilities and speech segmentation used by
// the telephony media pipeline.
//
// The inbound carrier stream is ITU-T G.711 μ-law at 8 kHz mono; the TTS
// provider produces 24 kHz 16-bit linear PCM. This package converts between
// the two worlds: μ-law ↔ linear PCM, linear-interpolation resampling, RIFF
// WAV framing for the STT service, and RMS energy measurement for the
// silence detector.
package audio

// CarrierSampleRate is the sample rate of the carrier media stream in Hz.
const CarrierSampleRate = 8000

// STTSampleRate is the sample rate the transcription service prefers in Hz.
const STTSampleRate = 16000

// TTSSampleRate is the sample rate of synthesized speech in Hz.
const TTSSampleRate = 24000

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawToPCM decodes μ-law bytes into 16-bit little-endian linear PCM.
// The output is exactly twice the length of the input.
func MulawToPCM(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := mulawDecodeSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCMToMulaw encodes 16-bit little-endian linear PCM into μ-law bytes.
// A trailing odd byte is ignored.
func PCMToMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = mulawEncodeSample(s)
	}
	return out
}

// mulawDecodeSample expands one μ-law byte to a linear sample (G.711).
func mulawDecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exp := (b >> 4) & 0x07
	mant := b & 0x0F

	t := (int32(mant)<<3 + mulawBias) << exp
	t -= mulawBias

	if sign != 0 {
		return int16(-t)
	}
	return int16(t)
}

// mulawEncodeSample compresses one linear sample to a μ-law byte (G.711).
func mulawEncodeSample(s int16) byte {
	var sign byte
	x := int32(s)
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > mulawClip {
		x = mulawClip
	}
	x += mulawBias

	exp := byte(7)
	for mask := int32(0x4000); exp > 0 && x&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte(x>>(exp+3)) & 0x0F

	return ^(sign | exp<<4 | mant)
}

// Rms computes the root-mean-square level of 16-bit little-endian PCM.
// Returns 0 for inputs shorter than one sample.
func Rms(pcm []byte) int {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < n; i++ {
		s := int64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return int(isqrt(sum / int64(n)))
}

// MulawRms computes the RMS level of a μ-law chunk after linearization.
func MulawRms(mulaw []byte) int {
	if len(mulaw) == 0 {
		return 0
	}
	return Rms(MulawToPCM(mulaw))
}

// isqrt returns the integer square root of v using Newton iteration.
func isqrt(v int64) int64 {
	if v <= 0 {
		return 0
	}
	x := v
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + v/x) / 2
	}
	return x
}
