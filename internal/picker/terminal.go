package picker

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/charmbracelet/huh"
)

var extensionsByKind = map[model.MediaKind][]string{
	model.KindImage: {".jpg", ".jpeg", ".png", ".gif", ".heic", ".webp"},
	model.KindVideo: {".mp4", ".mov", ".m4v"},
}

var mimeByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".heic": "image/heic",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
}

// TerminalSource presents an interactive file chooser rooted at Dir.
type TerminalSource struct {
	Dir string
}

// Present shows the chooser. Aborting it returns ErrDismissed.
func (s TerminalSource) Present(ctx context.Context, allowed Kinds) (Item, error) {
	var types []string
	for _, k := range allowed {
		types = append(types, extensionsByKind[k]...)
	}

	dir := s.Dir
	if dir == "" {
		dir = "."
	}

	var path string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewFilePicker().
				Title("Choose a photo or video").
				CurrentDirectory(dir).
				AllowedTypes(types).
				Value(&path),
		),
	).RunWithContext(ctx)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, ErrDismissed
		}
		return nil, err
	}
	if path == "" {
		return nil, ErrDismissed
	}
	return FileItem(path), nil
}

// FileItem is a selection backed by a local file.
type FileItem string

// Load reads the whole file. The MIME type is sniffed from the content and
// falls back to the file extension.
func (f FileItem) Load(ctx context.Context) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	content, err := os.ReadFile(string(f))
	if err != nil {
		return nil, "", err
	}

	mimeType := http.DetectContentType(content)
	if _, ok := KindOf(mimeType); !ok {
		if byExt, ok := mimeByExtension[strings.ToLower(filepath.Ext(string(f)))]; ok {
			mimeType = byExt
		}
	}
	return content, mimeType, nil
}
