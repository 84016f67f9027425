package imaging

import (
	"context"
	"log/slog"
	"runtime"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

// Limits of the image settings.
const (
	DefaultMaxEdge = 1400
	DefaultQuality = 80
	MinMaxEdge     = 200
	MaxMaxEdge     = 10000
	MinQuality     = 10
	MaxQuality     = 100
	MaxWorkers     = 8
)

// Options configures image processing.
type Options struct {
	// MaxEdge is the longest allowed edge in pixels.
	MaxEdge int
	// Quality is the JPEG quality.
	Quality int
	// Workers bounds the number of images processed at once.
	Workers int
}

// DefaultOptions returns the default image settings.
func DefaultOptions() Options {
	return Options{
		MaxEdge: DefaultMaxEdge,
		Quality: DefaultQuality,
		Workers: defaultWorkers(),
	}
}

func defaultWorkers() int {
	return min(runtime.NumCPU(), MaxWorkers)
}

// Normalize fills zero values with defaults and clamps the rest.
func (o Options) Normalize() Options {
	if o.MaxEdge == 0 {
		o.MaxEdge = DefaultMaxEdge
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers()
	}
	o.MaxEdge = lo.Clamp(o.MaxEdge, MinMaxEdge, MaxMaxEdge)
	o.Quality = lo.Clamp(o.Quality, MinQuality, MaxQuality)
	o.Workers = lo.Clamp(o.Workers, 1, MaxWorkers)
	return o
}

// SkipReason says why an image was left as it was.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipUnsupported SkipReason = "unsupported"
	SkipDecode      SkipReason = "decode"
	SkipNotSmaller  SkipReason = "not_smaller"
	SkipAlpha       SkipReason = "alpha"
)

// Result is the outcome for one image part.
type Result struct {
	Part   string
	Format Format
	// Data holds the replacement bytes, nil when skipped.
	Data   []byte
	Before int64
	After  int64
	// Width and Height are the dimensions of the written image.
	Width   int
	Height  int
	Resized bool
	// Oriented is set when an EXIF rotation was applied to the pixels.
	Oriented bool
	Skip     SkipReason
	// Err is set for decode failures.
	Err error
}

// Changed reports whether the part gets new bytes.
func (r Result) Changed() bool {
	return r.Skip == SkipNone && r.Data != nil
}

// Saved returns the number of bytes saved.
func (r Result) Saved() int64 {
	if !r.Changed() {
		return 0
	}
	return r.Before - r.After
}

// Slimmer recompresses every image part of an archive.
type Slimmer struct {
	opts   Options
	logger *slog.Logger
}

// NewSlimmer creates a Slimmer. A nil logger discards output.
func NewSlimmer(opts Options, logger *slog.Logger) *Slimmer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Slimmer{opts: opts.Normalize(), logger: logger}
}

// ImageParts lists the image parts of a in archive order.
func ImageParts(a *archive.Archive) []string {
	return a.Filter(func(p *archive.Part) bool {
		return strings.HasPrefix(p.ContentType, "image/")
	})
}

// Slim processes the images in a bounded pool and then writes the smaller
// encodings back. Part names and content types do not change.
func (s *Slimmer) Slim(ctx context.Context, a *archive.Archive) ([]Result, error) {
	names := ImageParts(a)
	results := make([]Result, len(names))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.Workers)
	for i, name := range names {
		part, _ := a.Part(name)
		data, contentType := part.Data, part.ContentType
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.Process(name, contentType, data)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		switch {
		case r.Changed():
			if err := a.PutPart(r.Part, r.Data, ""); err != nil {
				return nil, err
			}
			s.logger.Debug("image recompressed", "part", r.Part, "before", r.Before, "after", r.After, "resized", r.Resized, "oriented", r.Oriented)
		case r.Err != nil:
			s.logger.Warn("image skipped", "part", r.Part, "reason", string(r.Skip), "error", r.Err)
		default:
			s.logger.Debug("image kept", "part", r.Part, "reason", string(r.Skip))
		}
	}

	changed := lo.Filter(results, func(r Result, _ int) bool { return r.Changed() })
	s.logger.Info("images processed",
		"total", len(results),
		"recompressed", len(changed),
		"saved", lo.SumBy(changed, func(r Result) int64 { return r.Saved() }))
	return results, nil
}

// Process recompresses one image in its own format.
func (s *Slimmer) Process(name, contentType string, data []byte) Result {
	f := FormatOf(contentType, name)
	return transcode(name, data, f, f, s.opts)
}

// Convert re-encodes one image as format to. Images with transparency are
// not converted to JPEG.
func Convert(name string, data []byte, from, to Format, opts Options) Result {
	return transcode(name, data, from, to, opts.Normalize())
}

func transcode(name string, data []byte, from, to Format, opts Options) Result {
	res := Result{Part: name, Format: to, Before: int64(len(data))}
	if !from.Supported() || !to.Supported() {
		res.Skip = SkipUnsupported
		return res
	}
	img, err := Decode(from, data)
	if err != nil {
		res.Skip = SkipDecode
		res.Err = archive.NewError(archive.KindImageDecode, name, err)
		return res
	}
	// The encoders write no EXIF, so the rotation goes into the pixels.
	if from == FormatJPEG {
		if o := jpegOrientation(data); o != 1 {
			img = Orient(img, o)
			res.Oriented = true
		}
	}
	if to == FormatJPEG && from != FormatJPEG && HasAlpha(img) {
		res.Skip = SkipAlpha
		return res
	}
	img, res.Resized = Downscale(img, opts.MaxEdge)
	res.Width, res.Height = img.Bounds().Dx(), img.Bounds().Dy()

	out, err := Encode(to, img, opts.Quality)
	if err != nil {
		res.Skip = SkipDecode
		res.Err = archive.NewError(archive.KindImageDecode, name, err)
		return res
	}
	if int64(len(out)) >= res.Before {
		res.Skip = SkipNotSmaller
		return res
	}
	res.Data = out
	res.After = int64(len(out))
	return res
}
