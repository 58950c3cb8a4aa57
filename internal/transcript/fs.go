package transcript

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir reads <dir>/<id>.txt.
type Dir string

func (d Dir) Path(id string) string { return filepath.Join(string(d), id+".txt") }

func (d Dir) Load(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(d.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", d.Path(id), ErrSourceNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", id, err)
	}
	return string(b), nil
}
