package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/centralino-ai/centralino/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMulawRoundTrip_Stable(t *testing.T) {
	t.Parallel()
	// Decoding any μ-law byte and re-encoding must reproduce the same
	// linear value: codec values are fixed points of the round trip.
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	pcm := audio.MulawToPCM(all)
	again := audio.MulawToPCM(audio.PCMToMulaw(pcm))
	got := bytesToSamples(again)
	want := bytesToSamples(pcm)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %#02x: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMulawQuantizationError(t *testing.T) {
	t.Parallel()
	// μ-law quantization error stays within one step of the largest
	// segment for in-range samples.
	for s := int32(-30000); s <= 30000; s += 77 {
		in := samplesToBytes([]int16{int16(s)})
		out := bytesToSamples(audio.MulawToPCM(audio.PCMToMulaw(in)))
		diff := int32(out[0]) - s
		if diff < 0 {
			diff = -diff
		}
		if diff > 1024 {
			t.Fatalf("sample %d: round trip gave %d (error %d)", s, out[0], diff)
		}
	}
}

func TestMulawSilenceEncodesToFF(t *testing.T) {
	t.Parallel()
	out := audio.PCMToMulaw(samplesToBytes([]int16{0, 0, 0}))
	for i, b := range out {
		if b != 0xFF {
			t.Errorf("sample %d: got %#02x, want 0xff", i, b)
		}
	}
}

func TestRms(t *testing.T) {
	t.Parallel()
	if got := audio.Rms(nil); got != 0 {
		t.Errorf("empty input: got %d, want 0", got)
	}
	if got := audio.Rms(samplesToBytes([]int16{0, 0, 0, 0})); got != 0 {
		t.Errorf("silence: got %d, want 0", got)
	}
	// Constant amplitude has RMS equal to that amplitude.
	if got := audio.Rms(samplesToBytes([]int16{1000, -1000, 1000, -1000})); got != 1000 {
		t.Errorf("square wave: got %d, want 1000", got)
	}
}

func TestMulawRms(t *testing.T) {
	t.Parallel()
	loud := audio.PCMToMulaw(samplesToBytes([]int16{8000, -8000, 8000, -8000}))
	got := audio.MulawRms(loud)
	// Quantization shifts the level slightly; it must stay near 8000.
	if got < 7000 || got > 9000 {
		t.Errorf("got %d, want near 8000", got)
	}
	if audio.MulawRms(nil) != 0 {
		t.Error("empty input should have zero RMS")
	}
}

func TestWrapWAV_Header(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.WrapWAV(pcm, 16000, 16, 1)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF header: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size: got %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("format tag: got %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 2 {
		t.Errorf("block align: got %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample: got %d, want 16", got)
	}
	if string(wav[36:40]) != "data" {
		t.Fatalf("missing data chunk id: %q", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 8000, 8000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	t.Parallel()
	// 2 samples at 8 kHz become 4 samples at 16 kHz.
	pcm := samplesToBytes([]int16{1000, 2000})
	got := bytesToSamples(audio.ResampleMono16(pcm, 8000, 16000))
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	// Midpoint between the two source samples.
	if got[1] != 1500 {
		t.Errorf("interpolated sample: got %d, want 1500", got[1])
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()
	// 6 samples at 24 kHz become 2 samples at 8 kHz.
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	got := bytesToSamples(audio.ResampleMono16(pcm, 24000, 8000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 {
		t.Errorf("first sample: got %d, want 100", got[0])
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{100, 200})
	if out := audio.ResampleMono16(pcm, 0, 8000); len(out) != len(pcm) {
		t.Errorf("zero srcRate: expected unchanged output, got len %d", len(out))
	}
	if out := audio.ResampleMono16(pcm, 8000, 0); len(out) != len(pcm) {
		t.Errorf("zero dstRate: expected unchanged output, got len %d", len(out))
	}
}

func TestPrepareForSTT(t *testing.T) {
	t.Parallel()
	mulaw := audio.PCMToMulaw(samplesToBytes(make([]int16, 160))) // 20ms at 8kHz
	wav := audio.PrepareForSTT(mulaw)
	if string(wav[0:4]) != "RIFF" {
		t.Fatal("output is not a WAV")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	// 160 samples at 8kHz become 320 samples (640 bytes) at 16kHz.
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 640 {
		t.Errorf("data size: got %d, want 640", got)
	}
}

func TestPrepareForCarrier(t *testing.T) {
	t.Parallel()
	// 480 samples at 24kHz (20ms) become 160 μ-law bytes at 8kHz.
	pcm := samplesToBytes(make([]int16, 480))
	payload := audio.PrepareForCarrier(pcm, audio.TTSSampleRate)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	if len(raw) != 160 {
		t.Errorf("expected 160 μ-law bytes, got %d", len(raw))
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := audio.DecodePayload("not!!base64"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()
	if got := audio.MulawDuration(8000); got.Seconds() != 1 {
		t.Errorf("8000 μ-law bytes: got %v, want 1s", got)
	}
	if got := audio.PCMDuration(48000*2, 48000); got.Seconds() != 1 {
		t.Errorf("48000 PCM samples at 48kHz: got %v, want 1s", got)
	}
}
