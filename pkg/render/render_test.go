package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-captioner/pkg/processing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func TestRender_ProducesPNG(t *testing.T) {
	r := New()

	out, err := r.Render(testImage(320, 240), "A dog is running")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	// 0.77 of a 600px figure plus 30px padding on each side.
	assert.Equal(t, 462+60, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 462+60+21)
}

func TestRender_EmptyCaptionHasNoTitleSpace(t *testing.T) {
	r := New()

	out, err := r.Render(testImage(64, 64), "")
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 522, cfg.Width)
	assert.Equal(t, 522, cfg.Height)
}

func TestRender_Deterministic(t *testing.T) {
	r := New()
	img := testImage(100, 80)

	first, err := r.Render(img, "A cat on a mat")
	require.NoError(t, err)
	// A different caption in between reuses the pooled buffer.
	_, err = r.Render(img, strings.Repeat("word ", 40))
	require.NoError(t, err)
	second, err := r.Render(img, "A cat on a mat")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRender_LongCaptionWraps(t *testing.T) {
	r := New()

	short, err := r.Render(testImage(50, 50), "A dog")
	require.NoError(t, err)
	long, err := r.Render(testImage(50, 50), strings.Repeat("running ", 30))
	require.NoError(t, err)

	sc, err := png.DecodeConfig(bytes.NewReader(short))
	require.NoError(t, err)
	lc, err := png.DecodeConfig(bytes.NewReader(long))
	require.NoError(t, err)

	assert.Greater(t, lc.Height, sc.Height)
	assert.LessOrEqual(t, lc.Width, 600+60)
}

func TestRenderBytes_DecodeFailure(t *testing.T) {
	r := New()

	out, err := r.RenderBytes([]byte("definitely not an image"), "A dog")
	require.Error(t, err)
	assert.ErrorIs(t, err, processing.ErrImageDecode)
	assert.Nil(t, out)
	assert.Zero(t, r.ActiveSurfaces())
}

func TestRender_NilImage(t *testing.T) {
	r := New()

	_, err := r.Render(nil, "A dog")
	assert.ErrorIs(t, err, processing.ErrImageDecode)
	assert.Zero(t, r.ActiveSurfaces())
}

func TestRender_ConcurrentCallsReleaseSurfaces(t *testing.T) {
	r := New()
	data := testPNG(t, 120, 90)

	const workers = 8
	results := make([][]byte, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.RenderBytes(data, "A man riding a bike")
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	assert.Zero(t, r.ActiveSurfaces())
	for i := 1; i < workers; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestWrapText(t *testing.T) {
	r := New()
	s, err := r.acquire()
	require.NoError(t, err)
	defer r.release(s)

	assert.Nil(t, wrapText(s.face, "   ", 600))
	assert.Equal(t, []string{"a dog"}, wrapText(s.face, "a  dog", 600))

	lines := wrapText(s.face, "one two three four", 1)
	assert.Equal(t, []string{"one", "two", "three", "four"}, lines)
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{in: "#0000FF", want: color.NRGBA{0, 0, 255, 255}},
		{in: "#f00", want: color.NRGBA{255, 0, 0, 255}},
		{in: "Blue", want: color.NRGBA{0, 0, 255, 255}},
		{in: "0000ff", wantErr: true},
		{in: "#zzzzzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
