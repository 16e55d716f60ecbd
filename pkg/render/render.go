// Package render composes a caption and its source image into a single
// annotated PNG.
//
// The layout follows a fixed figure: the image is resized to the model's
// square input size, scaled into the figure's plot area and the caption is
// drawn centred above it as a title. The canvas is then cropped to the
// content plus a fixed outer padding. Output bytes depend only on the inputs
// and the Config.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/image-captioner/pkg/processing"
)

// Config holds the figure geometry and caption styling.
type Config struct {
	ImageSize    int         // square edge the source is resized to first
	FigureInches float64     // figure edge in inches
	DPI          float64     // pixels per inch
	AxesFraction float64     // share of the figure edge used by the image
	FontSize     float64     // caption size in points
	TitlePad     float64     // gap between caption and image in points
	OuterPad     float64     // padding around the content in inches
	TextColor    color.NRGBA // caption colour
	Background   color.NRGBA
}

// DefaultConfig returns the 6x6 inch, 100 DPI figure with a 14pt blue title.
func DefaultConfig() Config {
	return Config{
		ImageSize:    processing.DefaultImageSize,
		FigureInches: 6,
		DPI:          100,
		AxesFraction: 0.77,
		FontSize:     14,
		TitlePad:     15,
		OuterPad:     0.3,
		TextColor:    color.NRGBA{R: 0, G: 0, B: 255, A: 255},
		Background:   color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

var regularFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// Renderer draws annotated images. It is safe for concurrent use; each call
// draws on its own surface.
type Renderer struct {
	cfg       Config
	processor *processing.Processor
	surfaces  sync.Pool
	active    atomic.Int64
}

// New creates a Renderer with the default configuration
func New() *Renderer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Renderer with a custom configuration
func NewWithConfig(cfg Config) *Renderer {
	def := DefaultConfig()
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = def.ImageSize
	}
	if cfg.FigureInches <= 0 {
		cfg.FigureInches = def.FigureInches
	}
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	if cfg.AxesFraction <= 0 || cfg.AxesFraction > 1 {
		cfg.AxesFraction = def.AxesFraction
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = def.FontSize
	}
	r := &Renderer{
		cfg:       cfg,
		processor: processing.NewProcessor(),
	}
	r.surfaces.New = func() any { return &surface{} }
	return r
}

// Config returns the renderer's configuration
func (r *Renderer) Config() Config {
	return r.cfg
}

// ActiveSurfaces returns the number of surfaces currently acquired.
func (r *Renderer) ActiveSurfaces() int64 {
	return r.active.Load()
}

// RenderBytes decodes data and renders it with caption. Undecodable data
// yields an error wrapping processing.ErrImageDecode and no output.
func (r *Renderer) RenderBytes(data []byte, caption string) ([]byte, error) {
	img, err := r.processor.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return r.Render(img, caption)
}

// RenderFile loads an image from a path or URL and renders it with caption.
func (r *Renderer) RenderFile(source, caption string) ([]byte, error) {
	img, err := r.processor.LoadImageSmart(source)
	if err != nil {
		return nil, err
	}
	return r.Render(img, caption)
}

// Render draws img with caption and returns PNG bytes.
func (r *Renderer) Render(img image.Image, caption string) (out []byte, err error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", processing.ErrImageDecode)
	}

	s, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer r.release(s)
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("%w: render failed: %v", processing.ErrImageDecode, rec)
		}
	}()

	l := r.layout(s.face, caption)
	canvas := s.resize(l.width, l.height)

	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(r.cfg.Background), image.Point{}, xdraw.Src)

	square := r.processor.ResizeSquare(img, r.cfg.ImageSize)
	xdraw.CatmullRom.Scale(canvas, l.image, square, square.Bounds(), xdraw.Over, nil)

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(r.cfg.TextColor),
		Face: s.face,
	}
	for _, line := range l.lines {
		d.Dot = fixed.P(line.x, line.baseline)
		d.DrawString(line.text)
	}

	return r.processor.Encode(canvas, "png", 0, false)
}

type textLine struct {
	text     string
	x        int
	baseline int
}

type layout struct {
	width, height int
	image         image.Rectangle
	lines         []textLine
}

func (r *Renderer) layout(face font.Face, caption string) layout {
	figure := px(r.cfg.FigureInches * r.cfg.DPI)
	display := px(r.cfg.AxesFraction * float64(figure))
	outer := px(r.cfg.OuterPad * r.cfg.DPI)

	texts := wrapText(face, caption, figure)
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()

	contentW := display
	widths := make([]int, len(texts))
	for i, t := range texts {
		widths[i] = font.MeasureString(face, t).Ceil()
		if widths[i] > contentW {
			contentW = widths[i]
		}
	}

	textH, titlePad := 0, 0
	if len(texts) > 0 {
		textH = len(texts) * lineHeight
		titlePad = px(r.cfg.TitlePad * r.cfg.DPI / 72)
	}

	l := layout{
		width:  contentW + 2*outer,
		height: outer + textH + titlePad + display + outer,
	}
	imgX := outer + (contentW-display)/2
	imgY := outer + textH + titlePad
	l.image = image.Rect(imgX, imgY, imgX+display, imgY+display)

	l.lines = make([]textLine, len(texts))
	for i, t := range texts {
		l.lines[i] = textLine{
			text:     t,
			x:        outer + (contentW-widths[i])/2,
			baseline: outer + i*lineHeight + ascent,
		}
	}
	return l
}

// wrapText greedily breaks text into lines no wider than maxWidth pixels.
// A single word wider than maxWidth gets a line of its own.
func wrapText(face font.Face, text string, maxWidth int) []string {
	var lines []string
	cur := ""
	for _, w := range strings.Fields(text) {
		if cur == "" {
			cur = w
			continue
		}
		candidate := cur + " " + w
		if font.MeasureString(face, candidate).Ceil() > maxWidth {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur = candidate
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func px(v float64) int {
	return int(math.Round(v))
}
