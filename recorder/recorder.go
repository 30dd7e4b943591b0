// Package recorder keeps WAV copies of captured utterances for debugging.
package recorder

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/zenwerk/go-wave"

	"github.com/aatchison/mycroft-core/utterance"
)

const DefaultDir = "utterances"

type Recorder struct {
	fs  afero.Fs
	dir string
}

type Config struct {
	FileSys afero.Fs
	Dir     string
}

func New(cfg *Config) (*Recorder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir
	}

	err := cfg.FileSys.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	return &Recorder{fs: cfg.FileSys, dir: dir}, nil
}

// Save writes u to utterance-<unix nano>.wav and returns the path.
func (r *Recorder) Save(u *utterance.Utterance) (string, error) {
	if u.SampleWidth != utterance.DefaultSampleWidth {
		return "", fmt.Errorf("unsupported sample width: %d", u.SampleWidth)
	}

	name := filepath.Join(r.dir, "utterance-"+strconv.FormatInt(u.CapturedAt.UnixNano(), 10)+".wav")

	file, err := r.fs.Create(name)
	if err != nil {
		return "", err
	}

	param := wave.WriterParam{
		Out:           file,
		Channel:       1,
		SampleRate:    u.SampleRate,
		BitsPerSample: 16,
	}

	waveWriter, err := wave.NewWriter(param)
	if err != nil {
		_ = file.Close()
		return "", err
	}

	_, err = waveWriter.WriteSample16(u.Samples())
	if err != nil {
		_ = waveWriter.Close()
		return "", err
	}

	err = waveWriter.Close()
	if err != nil {
		return "", err
	}

	return name, nil
}
