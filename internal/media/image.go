package media

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	VideoWidth  = 1920
	VideoHeight = 1080
)

type ImageInfo struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// InspectImage decodes only the image header.
func InspectImage(path string) (*ImageInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("invalid image file: %w", err)
	}
	return &ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// PrepareImage scales src to fit inside 1920x1080 keeping its aspect ratio,
// centers it on a black canvas and writes a quality 90 JPEG to dst.
func PrepareImage(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	canvas := letterbox(img, VideoWidth, VideoHeight)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := imaging.Save(canvas, dst, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

func letterbox(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	scale := math.Min(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	w := int(math.Round(float64(b.Dx()) * scale))
	h := int(math.Round(float64(b.Dy()) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	resized := imaging.Resize(img, w, h, imaging.Lanczos)
	canvas := imaging.New(width, height, color.Black)
	return imaging.PasteCenter(canvas, resized)
}
