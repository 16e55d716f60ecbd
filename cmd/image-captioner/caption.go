package main

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-captioner"
	"github.com/menta2k/image-captioner/internal/utils"
	"github.com/menta2k/image-captioner/pkg/processing"
	"github.com/menta2k/image-captioner/pkg/types"
)

var captionOpts struct {
	outDir   string
	format   string
	quality  int
	lossless bool
	parallel int
	noImage  bool
	trace    bool
}

var captionCmd = &cobra.Command{
	Use:   "caption <image|url|dir>",
	Short: "Caption an image, a URL or every image in a directory",
	Long: `Generate a caption for each input and write the annotated image as
<name>_captioned.<format>, next to the input or under --out.`,
	Args: cobra.ExactArgs(1),
	RunE: runCaption,
}

func init() {
	rootCmd.AddCommand(captionCmd)

	f := captionCmd.Flags()
	f.StringVar(&captionOpts.outDir, "out", "", "output directory (default: next to each input)")
	f.StringVar(&captionOpts.format, "format", "png", "annotated image format: png|jpg|webp")
	f.IntVar(&captionOpts.quality, "quality", 90, "JPEG/WebP quality (1-100)")
	f.BoolVar(&captionOpts.lossless, "lossless", false, "lossless WebP output")
	f.IntVar(&captionOpts.parallel, "parallel", 2, "images captioned at once in directory mode")
	f.BoolVar(&captionOpts.noImage, "no-image", false, "print captions only")
	f.BoolVar(&captionOpts.trace, "trace", false, "print the top candidates of every decoding step")
	f.Float64("temperature", 1.0, "sampling temperature (> 0)")
	f.Int("max-length", 34, "maximum caption length in tokens")

	mustBindPFlag("generation.temperature", f.Lookup("temperature"))
	mustBindPFlag("generation.max_length", f.Lookup("max-length"))
}

func runCaption(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch strings.ToLower(captionOpts.format) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("unsupported format %q (use png, jpg or webp)", captionOpts.format)
	}

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
		return err
	}
	defer func() { _ = c.Close() }()

	inputs, err := collectInputs(args[0])
	if err != nil {
		return err
	}
	if captionOpts.outDir != "" && !captionOpts.noImage {
		if err := utils.EnsureDir(captionOpts.outDir); err != nil {
			return err
		}
	}

	gen := cfg.GenerationSettings()
	gen.Trace = captionOpts.trace

	job := &captionJob{
		captioner: c,
		processor: processing.NewProcessor(),
		gen:       gen,
		out:       cmd.OutOrStdout(),
		logger:    logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, captionOpts.parallel))
	var failed sync.Map
	for _, in := range inputs {
		g.Go(func() error {
			if err := job.run(gctx, in); err != nil {
				// One bad file should not stop a directory run.
				logger.Error("Caption failed", zap.String("input", in), zap.Error(err))
				failed.Store(in, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var n int
	failed.Range(func(_, _ any) bool { n++; return true })
	if n > 0 {
		return fmt.Errorf("%d of %d images failed", n, len(inputs))
	}
	return nil
}

// collectInputs expands a directory into its image files.
func collectInputs(arg string) ([]string, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") || !utils.DirExists(arg) {
		return []string{arg}, nil
	}
	files, err := utils.ListImageFiles(arg)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", arg, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", arg)
	}
	return files, nil
}

type captionJob struct {
	captioner *captioner.Captioner
	processor *processing.Processor
	gen       types.GenerationConfig

	mu     sync.Mutex // serialises writes to out
	out    io.Writer
	logger *zap.Logger
}

func (j *captionJob) run(ctx context.Context, input string) error {
	if captionOpts.noImage {
		img, err := j.processor.LoadImageSmart(input)
		if err != nil {
			return err
		}
		res, err := j.captioner.GenerateCaption(ctx, img, j.gen)
		if err != nil {
			return err
		}
		j.print(input, res, "")
		return nil
	}

	res, err := j.captioner.ProcessImageFile(ctx, input, j.gen)
	if err != nil {
		return err
	}

	format := strings.ToLower(captionOpts.format)
	path := utils.CaptionedFilename(input, captionOpts.outDir, format)
	if format == "png" {
		err = j.processor.SaveBytes(res.Image, path)
	} else {
		err = j.reencode(res.Image, path, format)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	j.print(input, res.Caption, path)
	return nil
}

// reencode converts the rendered PNG to another output format.
func (j *captionJob) reencode(pngData []byte, path, format string) error {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return err
	}
	return j.processor.SaveImage(img, path, format, captionOpts.quality, captionOpts.lossless)
}

func (j *captionJob) print(input string, res types.CaptionResult, written string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	fmt.Fprintf(j.out, "%s: %s\n", input, res.Caption)
	if res.Stop != types.StoppedEnd {
		fmt.Fprintf(j.out, "  stopped: %s\n", res.Stop)
	}
	for _, step := range res.Steps {
		parts := make([]string, len(step.Top))
		for i, c := range step.Top {
			parts[i] = fmt.Sprintf("%s=%.3f", c.Token, c.Prob)
		}
		fmt.Fprintf(j.out, "  step %2d: %s\n", step.Step, strings.Join(parts, " "))
	}
	if written != "" {
		fmt.Fprintf(j.out, "  wrote %s\n", written)
	}
}
