package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

type FileBackend struct {
	fs   afero.Fs
	path string
}

func NewFileBackend(fs afero.Fs, path string) (*FileBackend, error) {
	if fs == nil {
		return nil, fmt.Errorf("fs is nil")
	}

	if path == "" {
		return nil, fmt.Errorf("path is empty")
	}

	return &FileBackend{fs: fs, path: path}, nil
}

func (b *FileBackend) Load(_ context.Context) (Identity, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if os.IsNotExist(err) {
		return Identity{}, nil
	} else if err != nil {
		return Identity{}, err
	}

	var id Identity

	err = json.Unmarshal(data, &id)
	if err != nil {
		return Identity{}, fmt.Errorf("decoding %s: %w", b.path, err)
	}

	return id, nil
}

// Save writes to a sibling temp file and renames it over the old one, so a crash
// mid-write leaves the previous identity intact.
func (b *FileBackend) Save(_ context.Context, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}

	err = b.fs.MkdirAll(filepath.Dir(b.path), 0o700)
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"

	err = afero.WriteFile(b.fs, tmp, data, 0o600)
	if err != nil {
		return err
	}

	return b.fs.Rename(tmp, b.path)
}
