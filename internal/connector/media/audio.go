package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zaf/g711"
)

// Clip holds decoded WAV audio: 16-bit little-endian PCM plus the
// format fields needed to bring it to telephony rate.
type Clip struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	PCM           []byte
}

// ParseWAV reads a RIFF/WAVE file and returns its PCM payload. Only
// uncompressed 16-bit PCM is accepted.
func ParseWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a wav file")
	}

	clip := &Clip{}
	sawFormat := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch string(chunk[0:4]) {
		case "fmt ":
			var format struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(f, binary.LittleEndian, &format); err != nil {
				return nil, fmt.Errorf("read format chunk: %w", err)
			}
			if format.AudioFormat != 1 {
				return nil, fmt.Errorf("unsupported wav format %d, want PCM", format.AudioFormat)
			}
			if format.BitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported sample width %d, want 16", format.BitsPerSample)
			}
			clip.SampleRate = format.SampleRate
			clip.Channels = format.Channels
			clip.BitsPerSample = format.BitsPerSample
			sawFormat = true
			if rest := int64(size) - 16; rest > 0 {
				if _, err := f.Seek(rest, io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("skip format extension: %w", err)
				}
			}

		case "data":
			if !sawFormat {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			clip.PCM = make([]byte, size)
			if _, err := io.ReadFull(f, clip.PCM); err != nil {
				return nil, fmt.Errorf("read audio data: %w", err)
			}
			slog.Debug("[Audio] Loaded wav",
				"file", path,
				"sample_rate", clip.SampleRate,
				"channels", clip.Channels,
				"bytes", len(clip.PCM))
			return clip, nil

		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skip chunk %q: %w", chunk[0:4], err)
			}
		}
	}
	return nil, fmt.Errorf("no data chunk in wav file")
}

// downmix averages stereo frames into mono. Mono input passes through.
func (c *Clip) downmix() ([]byte, error) {
	switch c.Channels {
	case 1:
		return c.PCM, nil
	case 2:
		mono := make([]byte, len(c.PCM)/2)
		for i := 0; i+3 < len(c.PCM); i += 4 {
			left := int16(binary.LittleEndian.Uint16(c.PCM[i:]))
			right := int16(binary.LittleEndian.Uint16(c.PCM[i+2:]))
			mixed := uint16((int32(left) + int32(right)) / 2)
			binary.LittleEndian.PutUint16(mono[i/2:], mixed)
		}
		return mono, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", c.Channels)
	}
}

// resample8k linearly interpolates 16-bit mono PCM down (or up) to
// 8000 Hz.
func (c *Clip) resample8k(mono []byte) []byte {
	const targetRate = 8000
	if c.SampleRate == targetRate {
		return mono
	}

	ratio := float64(c.SampleRate) / targetRate
	inSamples := len(mono) / 2
	outSamples := int(float64(inSamples) / ratio)
	out := make([]byte, 0, outSamples*2)

	for i := 0; i < outSamples; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= inSamples {
			break
		}
		frac := pos - float64(idx)
		s0 := int16(binary.LittleEndian.Uint16(mono[idx*2:]))
		s1 := int16(binary.LittleEndian.Uint16(mono[idx*2+2:]))
		sample := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out = binary.LittleEndian.AppendUint16(out, uint16(sample))
	}
	return out
}

// LoadUlawPrompt loads a WAV file and returns it as 8000 Hz mono
// µ-law, ready to be cut into PCMU frames.
func LoadUlawPrompt(path string) ([]byte, error) {
	clip, err := ParseWAV(path)
	if err != nil {
		return nil, err
	}
	mono, err := clip.downmix()
	if err != nil {
		return nil, err
	}
	return g711.EncodeUlaw(clip.resample8k(mono)), nil
}
