// Package overlay stamps a fixed transparent image onto photos.
package overlay

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // CDN thumbnails are sometimes WebP

	"insta-mirror/pkg/mirror"
)

// Compositor applies one overlay image to photos at their top-left corner.
type Compositor struct {
	overlay image.Image
	logger  *slog.Logger
}

// New loads the overlay asset. The asset should carry an alpha channel.
func New(overlayPath string, logger *slog.Logger) (*Compositor, error) {
	img, err := imaging.Open(overlayPath)
	if err != nil {
		return nil, mirror.NewError(mirror.ImageError, "", "load overlay", err)
	}
	logger.Debug("Overlay loaded", "path", overlayPath, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return &Compositor{
		overlay: img,
		logger:  logger,
	}, nil
}

// Apply composites the overlay onto the photo at (0,0) and overwrites the file.
// The output format follows the file extension.
func (c *Compositor) Apply(photoPath string) error {
	base, err := imaging.Open(photoPath)
	if err != nil {
		return mirror.NewError(mirror.ImageError, "", "decode photo", err)
	}

	out := imaging.Overlay(base, c.overlay, image.Pt(0, 0), 1.0)

	if err := imaging.Save(out, photoPath, imaging.JPEGQuality(95)); err != nil {
		return mirror.NewError(mirror.ImageError, "", "encode photo", fmt.Errorf("save %s: %w", photoPath, err))
	}

	c.logger.Debug("Overlay applied", "path", photoPath)
	return nil
}
