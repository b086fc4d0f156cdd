package extract

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

// SilenceMetrics summarizes the signal level of an extracted WAV
// file. Near-silent audio usually means the video had no narration
// and the transcript will be empty.
type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// SilentBelow reports whether the audio sits under the threshold.
// The peak gate is 6 dB above the RMS threshold so a single loud
// click does not mask an otherwise silent track.
func (m SilenceMetrics) SilentBelow(thresholdDBFS float64) bool {
	if m.Samples == 0 {
		return true
	}
	if math.IsInf(m.RMSdBFS, -1) && math.IsInf(m.PeakdBFS, -1) {
		return true
	}
	return m.RMSdBFS <= thresholdDBFS && m.PeakdBFS <= thresholdDBFS+6
}

// AnalyzeSilence measures RMS and peak levels of a WAV file. Only the
// sample formats ffmpeg produces for this pipeline are supported:
// integer PCM at 16 or 32 bits and 32-bit float.
func AnalyzeSilence(path string) (SilenceMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return SilenceMetrics{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return SilenceMetrics{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return SilenceMetrics{}, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return SilenceMetrics{}, ErrInvalidWAV
	}

	format, data, err := readChunks(f)
	if err != nil {
		return SilenceMetrics{}, err
	}

	peak, sumSquares, samples := 0.0, 0.0, int64(0)
	step := int(format.bitsPerSample / 8)
	for i := 0; i+step <= len(data); i += step {
		value, err := decodeSample(data[i:i+step], format)
		if err != nil {
			return SilenceMetrics{}, err
		}
		if abs := math.Abs(value); abs > peak {
			peak = abs
		}
		sumSquares += value * value
		samples++
	}

	if samples == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}, nil
	}

	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(math.Sqrt(sumSquares / float64(samples))),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  samples,
	}, nil
}

type wavFormat struct {
	audioFormat   uint16
	bitsPerSample uint16
}

func readChunks(f *os.File) (wavFormat, []byte, error) {
	var (
		format     wavFormat
		dataOffset int64
		dataSize   uint32
		hasFmt     bool
		hasData    bool
	)

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return wavFormat{}, nil, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		chunkStart, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return wavFormat{}, nil, fmt.Errorf("seek wav chunk: %w", err)
		}

		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		if chunkID == "fmt " {
			if chunkSize < 16 {
				return wavFormat{}, nil, ErrInvalidWAV
			}
			buf := make([]byte, 16)
			if _, err := io.ReadFull(f, buf); err != nil {
				return wavFormat{}, nil, fmt.Errorf("read wav fmt chunk: %w", err)
			}
			format.audioFormat = binary.LittleEndian.Uint16(buf[0:2])
			format.bitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			hasFmt = true
			skip -= 16
		}
		if chunkID == "data" {
			dataOffset = chunkStart
			dataSize = chunkSize
			hasData = true
		}
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return wavFormat{}, nil, fmt.Errorf("seek wav chunk %s: %w", chunkID, err)
		}
	}

	if !hasFmt || !hasData {
		return wavFormat{}, nil, ErrInvalidWAV
	}
	if err := validateFormat(format); err != nil {
		return wavFormat{}, nil, err
	}

	if _, err := f.Seek(dataOffset, io.SeekStart); err != nil {
		return wavFormat{}, nil, fmt.Errorf("seek wav data: %w", err)
	}
	data := make([]byte, dataSize)
	if _, err := io.ReadFull(f, data); err != nil {
		return wavFormat{}, nil, fmt.Errorf("read wav data: %w", err)
	}

	return format, data, nil
}

func validateFormat(format wavFormat) error {
	switch {
	case format.audioFormat == 1 && (format.bitsPerSample == 16 || format.bitsPerSample == 32):
		return nil
	case format.audioFormat == 3 && format.bitsPerSample == 32:
		return nil
	}
	return ErrUnsupportedWAV
}

func decodeSample(sample []byte, format wavFormat) (float64, error) {
	if format.audioFormat == 3 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(sample))), nil
	}
	switch format.bitsPerSample {
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(sample))) / 32768.0, nil
	case 32:
		return float64(int32(binary.LittleEndian.Uint32(sample))) / 2147483648.0, nil
	}
	return 0, ErrUnsupportedWAV
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
