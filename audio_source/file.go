package audio_source

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/aatchison/mycroft-core/utterance"
)

type FileConfig struct {
	FileSys afero.Fs
	Paths   []string
}

// FileSource replays WAV files, one utterance per file, then reports
// ErrStopped. Multi-channel files contribute their first channel.
type FileSource struct {
	mu    sync.Mutex
	fs    afero.Fs
	paths []string
	next  int
}

func NewFileSource(cfg *FileConfig) (*FileSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	return &FileSource{
		fs:    cfg.FileSys,
		paths: append([]string(nil), cfg.Paths...),
	}, nil
}

func (f *FileSource) Listen(ctx context.Context) (*utterance.Utterance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ctx.Err() != nil || f.next >= len(f.paths) {
		return nil, ErrStopped
	}

	path := f.paths[f.next]
	f.next++

	u, err := f.decode(path)
	if err != nil {
		return nil, &IOError{Err: err}
	}

	return u, nil
}

func (f *FileSource) decode(path string) (*utterance.Utterance, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return nil, err
	}

	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	u := utterance.FromSamples(toMono16(buf), buf.Format.SampleRate)

	return u, nil
}

// toMono16 keeps the first channel and rescales to 16-bit.
func toMono16(buf *audio.IntBuffer) []int16 {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	shift := buf.SourceBitDepth - 16

	samples := make([]int16, 0, len(buf.Data)/channels)

	for i := 0; i < len(buf.Data); i += channels {
		s := buf.Data[i]

		switch {
		case buf.SourceBitDepth == 8:
			// 8-bit wav is unsigned
			s = (s - 128) << 8
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}

		samples = append(samples, int16(s))
	}

	return samples
}
