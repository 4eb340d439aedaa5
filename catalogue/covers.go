package catalogue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CoverStorage stores uploaded cover images and returns their public URL.
type CoverStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// DirCoverStorage keeps covers in a directory served under BaseURL.
// Stored names get a unique prefix, so uploads with the same file name
// never replace each other.
type DirCoverStorage struct {
	Dir     string
	BaseURL string
}

func NewDirCoverStorage(dir, baseURL string) (DirCoverStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return DirCoverStorage{}, fmt.Errorf("create cover dir: %w", err)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return DirCoverStorage{Dir: dir, BaseURL: baseURL}, nil
}

func (s DirCoverStorage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid cover name %q", name)
	}
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write cover: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored := uuid.NewString() + "-" + name
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, stored)); err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}
	return s.BaseURL + stored, nil
}

// Handler serves the stored covers. Mount it at BaseURL.
func (s DirCoverStorage) Handler() http.Handler {
	return http.StripPrefix(s.BaseURL, http.FileServer(http.Dir(s.Dir)))
}
