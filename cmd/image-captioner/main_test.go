package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/menta2k/image-captioner"
	"github.com/menta2k/image-captioner/internal/captiontest"
	"github.com/menta2k/image-captioner/internal/config"
)

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))

	got, err := collectInputs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.png")}, got)

	got, err = collectInputs("https://example.com/dog.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/dog.jpg"}, got)

	got, err = collectInputs(filepath.Join(dir, "a.jpg"))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = collectInputs(t.TempDir())
	assert.Error(t, err)
}

func TestServiceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxConcurrent = 7
	cfg.Generation.MaxLength = 20

	sc := serviceConfig(cfg)
	assert.Equal(t, int64(16<<20), sc.MaxUploadBytes)
	assert.Equal(t, 7, sc.Queue.MaxConcurrent)
	assert.Equal(t, 20, sc.Generation.MaxLength)
	assert.InDelta(t, 0.1, sc.MinTemperature, 1e-9)
	assert.InDelta(t, 2.0, sc.MaxTemperature, 1e-9)
	assert.Equal(t, 2*time.Minute, sc.Queue.RequestTimeout)
}

func TestWarmUp(t *testing.T) {
	models := captiontest.NewModels(2, 3, 6)
	c := captioner.New(models, captiontest.Vocabulary(), zaptest.NewLogger(t))

	require.NoError(t, warmUp(context.Background(), c, zaptest.NewLogger(t)))
	assert.Len(t, models.Images(), 1)

	broken := captioner.New(nil, nil, zaptest.NewLogger(t))
	assert.Error(t, warmUp(context.Background(), broken, zaptest.NewLogger(t)))
}
