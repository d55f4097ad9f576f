package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-tutor/pkg/audioio"
)

// ErrNoAudio is returned when a segment holds no samples.
var ErrNoAudio = errors.New("recorder: segment has no audio")

// Encoder turns captured chunks into a single container blob.
type Encoder interface {
	Encode(chunks []audioio.AudioChunk) ([]byte, error)
	// MimeType is sent alongside the blob so the server can decode it.
	MimeType() string
}

// NewEncoder returns the encoder selected by cfg for audio captured at
// sampleRate.
func NewEncoder(cfg Config, sampleRate int) (Encoder, error) {
	switch cfg.Codec {
	case CodecOggOpus:
		return NewOggOpusEncoder(sampleRate, cfg.Bitrate), nil
	case CodecWAV:
		return NewWAVEncoder(sampleRate), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
}

// opusRates are the input rates libopus accepts.
var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

const (
	opusFrameDuration = 20 // ms
	opusClockRate     = 48000
	opusPayloadType   = 111
	maxOpusPacket     = 4000
)

// OggOpusEncoder encodes mono Opus packets into an Ogg stream.
type OggOpusEncoder struct {
	rate    int
	bitrate int
}

// NewOggOpusEncoder creates an encoder. Input at a rate libopus does not
// accept is resampled to 48kHz.
func NewOggOpusEncoder(sampleRate, bitrate int) *OggOpusEncoder {
	rate := sampleRate
	if !opusRates[rate] {
		rate = opusClockRate
	}
	return &OggOpusEncoder{rate: rate, bitrate: bitrate}
}

// MimeType returns "audio/ogg".
func (e *OggOpusEncoder) MimeType() string { return "audio/ogg" }

// Encode packs the chunks as 20ms Opus frames. Each frame is wrapped in an
// RTP packet stamped on the 48kHz Opus clock, which is what the Ogg
// writer derives granule positions from.
func (e *OggOpusEncoder) Encode(chunks []audioio.AudioChunk) ([]byte, error) {
	pcm := audioio.Concat(chunks, e.rate)
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}

	enc, err := opus.NewEncoder(e.rate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if e.bitrate > 0 {
		if err := enc.SetBitrate(e.bitrate); err != nil {
			return nil, fmt.Errorf("set opus bitrate: %w", err)
		}
	}

	var buf bytes.Buffer
	ogg, err := oggwriter.NewWith(&buf, uint32(e.rate), 1)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}

	frame := e.rate * opusFrameDuration / 1000
	step := uint32(opusClockRate * opusFrameDuration / 1000)
	packet := make([]byte, maxOpusPacket)
	ssrc := rand.Uint32()

	var seq uint16
	var ts uint32
	for off := 0; off < len(pcm); off += frame {
		in := make([]int16, frame)
		copy(in, pcm[off:])

		n, err := enc.Encode(in, packet)
		if err != nil {
			return nil, fmt.Errorf("encode opus frame: %w", err)
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    opusPayloadType,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: append([]byte(nil), packet[:n]...),
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			return nil, fmt.Errorf("write ogg page: %w", err)
		}
		seq++
		ts += step
	}

	if err := ogg.Close(); err != nil {
		return nil, fmt.Errorf("close ogg writer: %w", err)
	}
	return buf.Bytes(), nil
}

// WAVEncoder writes a canonical 44-byte-header PCM16 mono WAV file.
type WAVEncoder struct {
	rate int
}

// NewWAVEncoder creates a WAV encoder for sampleRate.
func NewWAVEncoder(sampleRate int) *WAVEncoder {
	return &WAVEncoder{rate: sampleRate}
}

// MimeType returns "audio/wav".
func (e *WAVEncoder) MimeType() string { return "audio/wav" }

// Encode writes the chunks as a WAV file.
func (e *WAVEncoder) Encode(chunks []audioio.AudioChunk) ([]byte, error) {
	pcm := audioio.Concat(chunks, e.rate)
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}

	dataLen := uint32(len(pcm) * 2)
	var buf bytes.Buffer
	buf.Grow(44 + int(dataLen))

	hdr := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataLen,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(e.rate),
		ByteRate:      uint32(e.rate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataLen,
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, pcm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
