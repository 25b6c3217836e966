package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BytesPerSample is fixed: the node only speaks signed 16-bit little-endian PCM
const BytesPerSample = 2

// PCMFormat describes a raw S16LE stream
type PCMFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// ByteRate returns the number of PCM bytes per second of audio
func (f PCMFormat) ByteRate() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Validate rejects formats that cannot be written to a WAV header
func (f PCMFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// wavHeader is the canonical 44-byte PCM WAV header
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

const wavHeaderSize = 44

// EncodeWAV wraps raw S16LE PCM bytes in a WAV container
func EncodeWAV(pcm []byte, format PCMFormat) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	blockAlign := format.Channels * BytesPerSample
	if len(pcm)%blockAlign != 0 {
		// A trailing partial frame is dropped rather than corrupting the file
		pcm = pcm[:len(pcm)-len(pcm)%blockAlign]
		if len(pcm) == 0 {
			return nil, fmt.Errorf("audio shorter than one %d-byte frame", blockAlign)
		}
	}

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.ByteRate()),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: 8 * BytesPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeWAV extracts the PCM payload and its format from a WAV file. Chunks
// other than "fmt " and "data" (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) ([]byte, PCMFormat, error) {
	if len(data) < 12 {
		return nil, PCMFormat{}, fmt.Errorf("WAV data too short: got %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		format  PCMFormat
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Streams written by crashed recorders often carry a bogus data size
			if id == "data" && haveFmt {
				size = len(data) - body
			} else {
				return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: chunk %q overruns file", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: fmt chunk is %d bytes", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if audioFormat != 1 {
				return nil, PCMFormat{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			if bits != 8*BytesPerSample {
				return nil, PCMFormat{}, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", bits)
			}
			format = PCMFormat{SampleRate: int(sampleRate), Channels: int(channels)}
			if err := format.Validate(); err != nil {
				return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: %w", err)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if size == 0 {
				return nil, PCMFormat{}, fmt.Errorf("no audio data found")
			}
			pcm := make([]byte, size)
			copy(pcm, data[body:body+size])
			return pcm, format, nil
		}

		// Chunks are word aligned
		pos = body + size + size%2
	}

	if !haveFmt {
		return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, PCMFormat{}, fmt.Errorf("invalid WAV file: missing data chunk")
}

// Duration returns the play time of n PCM bytes in seconds
func (f PCMFormat) Duration(n int) float64 {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}
	return float64(n) / float64(rate)
}
