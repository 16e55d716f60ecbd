package render

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
)

// surface is a drawing context: a font face plus a reusable pixel buffer.
// Faces are not safe for concurrent use, so every render owns one.
type surface struct {
	face   font.Face
	pix    []uint8
	canvas *image.RGBA
}

// acquire hands out a surface. Every successful acquire must be paired with
// release.
func (r *Renderer) acquire() (*surface, error) {
	f, err := regularFont()
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    r.cfg.FontSize,
		DPI:     r.cfg.DPI,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}

	s := r.surfaces.Get().(*surface)
	s.face = face
	r.active.Add(1)
	return s, nil
}

// release closes the face and returns the buffer to the pool.
func (r *Renderer) release(s *surface) {
	if s.face != nil {
		_ = s.face.Close()
		s.face = nil
	}
	s.canvas = nil
	r.active.Add(-1)
	r.surfaces.Put(s)
}

// resize points the surface's canvas at a w x h region of its buffer,
// growing the buffer when needed.
func (s *surface) resize(w, h int) *image.RGBA {
	n := w * h * 4
	if cap(s.pix) < n {
		s.pix = make([]uint8, n)
	}
	s.canvas = &image.RGBA{
		Pix:    s.pix[:n],
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
	return s.canvas
}
