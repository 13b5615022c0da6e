package preview

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/filegate/filegate/internal/fileinfo"
)

const thumbWidth = 400

// Generator renders small local thumbnails for image selections, standing
// in for the original widget's preview pane. Failures never block the
// upload flow.
type Generator struct {
	dir string
	log *zap.Logger
}

func NewGenerator(dir string, logger *zap.Logger) (*Generator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &Generator{dir: dir, log: logger}, nil
}

// Generate decodes the selected image and writes a JPEG thumbnail next to
// the other previews, returning its path.
func (g *Generator) Generate(f *fileinfo.SelectedFile) (string, error) {
	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	// Height 0 keeps the aspect ratio.
	thumb := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)

	base := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
	out := filepath.Join(g.dir, base+"-preview.jpg")
	if err := imaging.Save(thumb, out); err != nil {
		return "", fmt.Errorf("save preview: %w", err)
	}

	g.log.Debug("preview generated", zap.String("path", out))
	return out, nil
}
