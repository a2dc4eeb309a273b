package audio

import (
	"encoding/base64"
	"time"
)

// PrepareForSTT converts a carrier μ-law utterance into a 16 kHz mono WAV
// suitable for the transcription service.
func PrepareForSTT(mulaw []byte) []byte {
	pcm := MulawToPCM(mulaw)
	pcm = ResampleMono16(pcm, CarrierSampleRate, STTSampleRate)
	return WrapWAV(pcm, STTSampleRate, 16, 1)
}

// PrepareForCarrier converts synthesized PCM at srcRate into the base64
// μ-law 8 kHz payload the carrier media stream expects.
func PrepareForCarrier(pcm []byte, srcRate int) string {
	pcm8k := ResampleMono16(pcm, srcRate, CarrierSampleRate)
	return base64.StdEncoding.EncodeToString(PCMToMulaw(pcm8k))
}

// DecodePayload decodes a base64 media payload from an inbound carrier frame.
func DecodePayload(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

// MulawDuration returns the playback duration of a μ-law chunk at the
// carrier sample rate. One byte is one sample.
func MulawDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / CarrierSampleRate
}

// PCMDuration returns the playback duration of 16-bit mono PCM at rate.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(rate)
}
