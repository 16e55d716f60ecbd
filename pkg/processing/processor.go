package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-captioner/pkg/types"
)

// ErrImageDecode is returned when an image cannot be loaded or decoded.
var ErrImageDecode = errors.New("could not process image")

// DefaultImageSize is the square edge length the feature extractor expects.
const DefaultImageSize = 224

// MaxPixels bounds the decoded size of an input image.
const MaxPixels = 64 << 20

// MaxDownloadBytes bounds the body read by LoadImageFromURL.
const MaxDownloadBytes = 16 << 20

// Processor handles image loading, resizing and encoding
type Processor struct {
	httpClient  *http.Client
	userAgent   string
	maxDownload int64
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		userAgent:   "Image-Captioner/1.0",
		maxDownload: MaxDownloadBytes,
	}
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	// Validate URL
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: URL does not point to an image (Content-Type: %s)", ErrImageDecode, contentType)
	}

	limit := p.maxDownload
	if limit <= 0 {
		limit = MaxDownloadBytes
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: image download exceeds %d bytes", ErrImageDecode, limit)
	}
	imageData, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(imageData)) > limit {
		return nil, fmt.Errorf("%w: image download exceeds %d bytes", ErrImageDecode, limit)
	}

	return p.DecodeImage(imageData)
}

// LoadImage loads an image from a file path with WebP support. Files go
// through DecodeImage so the MaxPixels guard applies to them too.
func (p *Processor) LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageDecode, err)
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return p.LoadImage(source)
	}
	img, err := p.LoadImageFromURL(source)
	if err != nil && !errors.Is(err, ErrImageDecode) {
		return nil, fmt.Errorf("%w: %w", ErrImageDecode, err)
	}
	return img, err
}

// DecodeImage decodes an image from byte data with WebP support
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrImageDecode)
	}

	if info, err := p.Inspect(data); err == nil && info.Width*info.Height > MaxPixels {
		return nil, fmt.Errorf("%w: image too large: %dx%d", ErrImageDecode, info.Width, info.Height)
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("%w: unknown or unsupported format", ErrImageDecode)
}

// ResizeSquare resizes img to size x size without preserving the aspect
// ratio, using nearest-neighbour sampling as the training pipeline did.
func (p *Processor) ResizeSquare(img image.Image, size int) *image.NRGBA {
	if size <= 0 {
		size = DefaultImageSize
	}
	return imaging.Resize(img, size, size, imaging.NearestNeighbor)
}

// ToTensor resizes img to size x size and converts it to an RGB float tensor
// with values scaled to [0,1]. Alpha is dropped.
func (p *Processor) ToTensor(img image.Image, size int) types.ImageTensor {
	resized := p.ResizeSquare(img, size)
	b := resized.Bounds()
	w, h := b.Dx(), b.Dy()

	data := make([]float32, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			data = append(data,
				float32(px[0])/255.0,
				float32(px[1])/255.0,
				float32(px[2])/255.0)
		}
	}

	return types.ImageTensor{Data: data, Height: h, Width: w, Channels: 3}
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Encode encodes img in the given format (png, jpg/jpeg or webp).
func (p *Processor) Encode(img image.Image, format string, quality int, lossless bool) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "webp":
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	case "jpg", "jpeg":
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// SaveBytes writes already-encoded image data to path
func (p *Processor) SaveBytes(data []byte, path string) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
