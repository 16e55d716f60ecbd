package processing

import (
	"bytes"
	"fmt"
	"image"
)

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Format      string  `json:"format"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// Inspect reads the image header without decoding pixels.
func (p *Processor) Inspect(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %w", ErrImageDecode, err)
	}
	return newInfo(cfg.Width, cfg.Height, format), nil
}

// GetImageInfo returns basic information about a decoded image
func (p *Processor) GetImageInfo(img image.Image) ImageInfo {
	b := img.Bounds()
	return newInfo(b.Dx(), b.Dy(), "")
}

func newInfo(w, h int, format string) ImageInfo {
	info := ImageInfo{Width: w, Height: h, Format: format}
	if h > 0 {
		info.AspectRatio = float64(w) / float64(h)
	}
	return info
}
