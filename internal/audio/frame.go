// Package audio additionally implements audio capture and framing (spec
// §4.11 / component C11): 16kHz mono PCM16 capture, resampling from a
// device's native rate, and fixed-size (20ms/640-byte) framing into the
// ASR adapter. The decode/resample/codec primitives below this file
// (codec.go, pcm.go, resample.go, g711.go, wav.go) are the teacher's
// telephony-call audio pipeline unchanged; Framer and Capture are new,
// since the teacher transcribes whole buffered utterances over HTTP and
// never needed a steady capture-to-stream cadence.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FrameSampleRate and FrameBytes are the fixed output shape spec §4.11
// requires: 16kHz mono, 20ms frames of 16-bit samples (640 bytes/frame).
const (
	FrameSampleRate = 16000
	FrameDurationMs = 20
	FrameSamples    = FrameSampleRate * FrameDurationMs / 1000 // 320 samples
	FrameBytes      = FrameSamples * 2                         // 640 bytes
)

// EncodePCM16LE converts float32 samples in [-1, 1] to little-endian
// 16-bit PCM bytes, the inverse of decodePCM.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := s
		if clamped > 1.0 {
			clamped = 1.0
		} else if clamped < -1.0 {
			clamped = -1.0
		}
		v := int16(math.Round(float64(clamped) * math.MaxInt16))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Framer buffers arbitrary-length PCM16LE byte chunks (after capture and
// resampling) and yields fixed-size FrameBytes-sized frames in arrival
// order, dropping zero-length input silently (spec §8 boundary
// behavior: "Zero-length audio frame ignored (no crash; no event)").
type Framer struct {
	buf []byte
}

// NewFramer creates an empty Framer.
func NewFramer() *Framer { return &Framer{} }

// Push appends chunk to the pending buffer and returns every complete
// fixed-size frame that can now be extracted, leaving any remainder
// buffered for the next call.
func (f *Framer) Push(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for len(f.buf) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, f.buf[:FrameBytes])
		frames = append(frames, frame)
		f.buf = f.buf[FrameBytes:]
	}
	return frames
}

// Flush returns any partial frame remaining in the buffer, zero-padded
// to FrameBytes, and clears it. Used when capture stops so the ASR
// adapter's last partial frame isn't silently lost.
func (f *Framer) Flush() []byte {
	if len(f.buf) == 0 {
		return nil
	}
	frame := make([]byte, FrameBytes)
	copy(frame, f.buf)
	f.buf = nil
	return frame
}

// CaptureConfig describes the device audio Capture receives before
// conversion to the fixed 16kHz mono PCM16 frame stream.
type CaptureConfig struct {
	DeviceSampleRate int
	DeviceChannels   int
	Codec            Codec
}

// Capture turns raw device audio chunks into fixed-size 16kHz mono
// PCM16LE frames ready for internal/asr.Adapter.SendAudio. It owns no
// hardware handle itself — the platform-specific microphone binding is
// outside this spec's core (spec §1 scope) — callers feed it whatever
// bytes the device driver hands them.
type Capture struct {
	cfg    CaptureConfig
	framer *Framer
	paused bool
}

// NewCapture creates a Capture for the given device configuration.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.DeviceChannels != 1 {
		return nil, fmt.Errorf("audio: only mono capture is supported, got %d channels", cfg.DeviceChannels)
	}
	if cfg.DeviceSampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid device sample rate %d", cfg.DeviceSampleRate)
	}
	return &Capture{cfg: cfg, framer: NewFramer()}, nil
}

// Pause stops frame delivery without closing the device (spec §4.11: "On
// pause, stop delivery without closing the device"). PushChunk becomes a
// no-op returning nil until Resume.
func (c *Capture) Pause()  { c.paused = true }
func (c *Capture) Resume() { c.paused = false }

// PushChunk decodes one raw device chunk, resamples it to 16kHz if
// needed, and returns any fixed-size frames now ready for delivery. While
// paused it discards the chunk and returns nil, per spec §4.11.
func (c *Capture) PushChunk(raw []byte) ([][]byte, error) {
	if c.paused {
		return nil, nil
	}
	if len(raw) == 0 {
		return nil, nil
	}

	samples, rate, err := Decode(raw, c.cfg.Codec, c.cfg.DeviceSampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio: decode capture chunk: %w", err)
	}
	if rate != FrameSampleRate {
		samples = Resample(samples, rate, FrameSampleRate)
	}
	pcm := EncodePCM16LE(samples)
	return c.framer.Push(pcm), nil
}

// Flush returns the framer's trailing partial frame, used when capture
// stops.
func (c *Capture) Flush() []byte { return c.framer.Flush() }
