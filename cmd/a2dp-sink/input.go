package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnsupportedInput indicates an input file the player cannot decode.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrMalformedWAV indicates a WAV file with a broken chunk structure.
	ErrMalformedWAV = errors.New("malformed wav file")
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xfffe
)

// pcmSource is S16LE interleaved audio read from a file.
type pcmSource struct {
	io.Reader
	Rate     uint32
	Channels int

	closer io.Closer
}

func (s *pcmSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// openInput opens path as kind (wav, mp3, raw or auto). Raw input takes its
// format from rate and channels.
func openInput(path, kind string, rate uint32, channels int) (*pcmSource, error) {
	if kind == "" || kind == "auto" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	var src *pcmSource
	switch kind {
	case "wav", "wave":
		src, err = decodeWAV(f)
	case "mp3":
		src, err = decodeMP3(f)
	case "raw", "pcm", "s16le":
		src = &pcmSource{Reader: bufio.NewReader(f), Rate: rate, Channels: channels}
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedInput, kind)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f

	logrus.WithFields(logrus.Fields{
		"function": "openInput",
		"path":     path,
		"kind":     kind,
		"rate":     src.Rate,
		"channels": src.Channels,
	}).Info("Opened input")

	return src, nil
}

func decodeMP3(r io.Reader) (*pcmSource, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	// go-mp3 always produces 16-bit stereo.
	return &pcmSource{Reader: d, Rate: uint32(d.SampleRate()), Channels: 2}, nil
}

// decodeWAV positions r at the sample data of an integer PCM WAV file.
// Samples of any supported depth are delivered as S16LE.
func decodeWAV(r io.ReadSeeker) (*pcmSource, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedWAV, err)
	}
	if d.NumChans == 0 {
		return nil, fmt.Errorf("%w: no fmt chunk", ErrMalformedWAV)
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: wav format tag %#x", ErrUnsupportedInput, d.WavAudioFormat)
	}
	switch d.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedInput, d.BitDepth)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: no data chunk: %w", ErrMalformedWAV, err)
	}

	return &pcmSource{
		Reader: &wavReader{
			dec:   d,
			depth: int(d.BitDepth),
			buf:   &audio.IntBuffer{Data: make([]int, wavReadSamples)},
		},
		Rate:     d.SampleRate,
		Channels: int(d.NumChans),
	}, nil
}

const wavReadSamples = 4096

// wavReader converts decoded WAV samples to S16LE.
type wavReader struct {
	dec     *wav.Decoder
	depth   int
	buf     *audio.IntBuffer
	out     []byte
	pending []byte
	done    bool
}

func (w *wavReader) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		if w.done {
			return 0, io.EOF
		}
		n, err := w.dec.PCMBuffer(w.buf)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrMalformedWAV, err)
		}
		if n == 0 {
			w.done = true
			continue
		}

		w.out = w.out[:0]
		for _, v := range w.buf.Data[:n] {
			w.out = binary.LittleEndian.AppendUint16(w.out, uint16(toS16(v, w.depth)))
		}
		w.pending = w.out
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// toS16 scales a decoded sample of the given bit depth to 16 bits. 8-bit
// samples are unsigned.
func toS16(v, depth int) int16 {
	switch depth {
	case 8:
		return int16((v - 128) << 8)
	case 16:
		return int16(v)
	default:
		return int16(v >> (depth - 16))
	}
}
