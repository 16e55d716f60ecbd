package main

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-captioner"
	"github.com/menta2k/image-captioner/internal/config"
	"github.com/menta2k/image-captioner/pkg/service"
)

var skipWarmup bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caption upload service",
	Long: `Load the models and serve the upload page, POST /upload, GET /health
and GET /metrics. Exits with status 1 if the models cannot be loaded.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":5000", "listen address (PORT overrides the port)")
	serveCmd.Flags().Int("max-concurrent", 4, "captions generated at once (0 = unlimited)")
	serveCmd.Flags().BoolVar(&skipWarmup, "skip-warmup", false, "do not run a test caption before serving")

	mustBindPFlag("server.address", serveCmd.Flags().Lookup("addr"))
	mustBindPFlag("server.max_concurrent", serveCmd.Flags().Lookup("max-concurrent"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := captioner.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to load models", zap.Error(err))
		return err
	}
	defer func() { _ = c.Close() }()

	srv := service.New(c, serviceConfig(cfg), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, cfg.Server.Address)
	})
	if !skipWarmup && c.Source() == "local" {
		g.Go(func() error {
			return warmUp(gctx, c, logger)
		})
	}
	return g.Wait()
}

func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		MinTemperature: cfg.Server.MinTemperature,
		MaxTemperature: cfg.Server.MaxTemperature,
		Generation:     cfg.GenerationSettings(),
		Queue: service.QueueConfig{
			MaxConcurrent:  cfg.Server.MaxConcurrent,
			MaxQueue:       cfg.Server.MaxQueue,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
	}
}

// warmUp captions a blank image once so the first upload does not pay for
// session initialisation. A failure here stops the server.
func warmUp(ctx context.Context, c *captioner.Captioner, logger *zap.Logger) error {
	size := c.Config().ImageSize
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 128}}, image.Point{}, draw.Src)

	start := time.Now()
	res, err := c.GenerateCaption(ctx, img, c.Config().Generation)
	if err != nil {
		logger.Error("Warm-up caption failed", zap.Error(err))
		return err
	}
	logger.Info("Models warmed up",
		zap.String("caption", res.Caption),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
