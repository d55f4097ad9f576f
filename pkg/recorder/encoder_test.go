package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/teslashibe/go-tutor/pkg/audioio"
)

func tone(n int) []audioio.AudioChunk {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return []audioio.AudioChunk{{Samples: s, SampleRate: 16000, Channels: 1}}
}

func TestWAVEncoder(t *testing.T) {
	enc := NewWAVEncoder(16000)
	blob, err := enc.Encode(tone(1600))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(blob) != 44+3200 {
		t.Fatalf("got %d bytes, want %d", len(blob), 44+3200)
	}
	if !bytes.Equal(blob[0:4], []byte("RIFF")) || !bytes.Equal(blob[8:12], []byte("WAVE")) {
		t.Errorf("bad header %q", blob[:12])
	}
	if rate := binary.LittleEndian.Uint32(blob[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(blob[40:44]); size != 3200 {
		t.Errorf("data size = %d", size)
	}
	if enc.MimeType() != "audio/wav" {
		t.Errorf("MimeType = %q", enc.MimeType())
	}
}

func TestOggOpusEncoder(t *testing.T) {
	enc := NewOggOpusEncoder(16000, 32000)
	blob, err := enc.Encode(tone(16000))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.HasPrefix(blob, []byte("OggS")) {
		t.Errorf("missing Ogg capture pattern")
	}
	if !bytes.Contains(blob, []byte("OpusHead")) {
		t.Errorf("missing OpusHead header")
	}
	if enc.MimeType() != "audio/ogg" {
		t.Errorf("MimeType = %q", enc.MimeType())
	}
}

func TestOggOpusEncoderResamplesOddRates(t *testing.T) {
	enc := NewOggOpusEncoder(44100, 32000)
	if enc.rate != 48000 {
		t.Errorf("rate = %d, want 48000", enc.rate)
	}
}

func TestEncodersRejectEmptySegments(t *testing.T) {
	for _, enc := range []Encoder{NewWAVEncoder(16000), NewOggOpusEncoder(16000, 32000)} {
		if _, err := enc.Encode(nil); !errors.Is(err, ErrNoAudio) {
			t.Errorf("%T: got %v, want ErrNoAudio", enc, err)
		}
	}
}

func TestNewEncoder(t *testing.T) {
	cfg := DefaultConfig()
	enc, err := NewEncoder(cfg, 16000)
	if err != nil || enc.MimeType() != "audio/ogg" {
		t.Errorf("default encoder = %v, %v", enc, err)
	}

	cfg.Codec = CodecWAV
	if enc, _ := NewEncoder(cfg, 16000); enc.MimeType() != "audio/wav" {
		t.Errorf("wav encoder mime = %q", enc.MimeType())
	}

	cfg.Codec = "flac"
	if _, err := NewEncoder(cfg, 16000); err == nil {
		t.Error("expected error for unknown codec")
	}
}
