// Package precision removes auxiliary parts Excel can rebuild on its own and
// converts embedded images between formats.
package precision

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
	"github.com/ukaji3/exslim-go/pkg/exslim/imaging"
)

// Options configures the precision stage.
type Options struct {
	// XMLCleanup removes the calculation chain, printer settings and thumbnail.
	XMLCleanup bool
	// ForceCustomXML removes custom XML data and custom document properties.
	ForceCustomXML bool
	// ConvertFrom and ConvertTo select an image conversion. Conversion is off
	// when ConvertTo is empty; an empty ConvertFrom takes the usual source for
	// the target.
	ConvertFrom imaging.Format
	ConvertTo   imaging.Format
	Image       imaging.Options
}

// Result lists what the stage changed.
type Result struct {
	// Removed holds every part removed, cascaded parts included.
	Removed     []string
	Conversions []Conversion
	// Skipped holds conversion candidates that were left alone.
	Skipped []imaging.Result
}

// Conversion records one image that changed format.
type Conversion struct {
	From   string
	To     string
	Before int64
	After  int64
}

var cleanupTypes = []string{
	archive.RelCalcChain,
	archive.RelPrinterSettings,
	archive.RelThumbnail,
}

var customTypes = []string{
	archive.RelCustomXML,
	archive.RelCustomProps,
}

// Cleaner runs the precision stage.
type Cleaner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Cleaner. A nil logger discards output.
func New(opts Options, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts.Image = opts.Image.Normalize()
	if opts.ConvertTo != imaging.FormatUnknown && opts.ConvertFrom == imaging.FormatUnknown {
		opts.ConvertFrom = DefaultSource(opts.ConvertTo)
	}
	return &Cleaner{opts: opts, logger: logger}
}

// DefaultSource is the format converted when only a target is given.
func DefaultSource(to imaging.Format) imaging.Format {
	if to == imaging.FormatJPEG {
		return imaging.FormatPNG
	}
	return imaging.FormatJPEG
}

// Clean applies the configured removals and conversion to a.
func (c *Cleaner) Clean(ctx context.Context, a *archive.Archive) (*Result, error) {
	res := &Result{}

	var relTypes []string
	if c.opts.XMLCleanup {
		relTypes = append(relTypes, cleanupTypes...)
	}
	if c.opts.ForceCustomXML {
		relTypes = append(relTypes, customTypes...)
	}
	if len(relTypes) > 0 {
		removed, err := c.removeByType(a, relTypes)
		if err != nil {
			return nil, err
		}
		res.Removed = removed
	}

	if c.opts.ConvertTo != imaging.FormatUnknown {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.convert(ctx, a, res); err != nil {
			return nil, err
		}
	}

	c.logger.Info("precision cleanup done", "removed", len(res.Removed), "converted", len(res.Conversions))
	return res, nil
}

// removeByType removes every part targeted by a relationship of one of the
// given types, along with whatever only those parts referenced.
func (c *Cleaner) removeByType(a *archive.Archive, relTypes []string) ([]string, error) {
	targets, err := Targets(a, relTypes...)
	if err != nil {
		return nil, err
	}

	before := a.Names()
	sync := archive.NewSynchronizer(a)
	for _, target := range targets {
		if !a.Has(target) {
			continue
		}
		if err := sync.ApplyRemoval(target); err != nil {
			return nil, err
		}
		c.logger.Debug("part removed", "part", target)
	}

	removed := lo.Filter(before, func(name string, _ int) bool {
		return !a.Has(name) && !archive.IsRelsPath(name)
	})
	return removed, nil
}

// Targets lists, in archive order, the existing parts any relationship of
// the given types points at.
func Targets(a *archive.Archive, relTypes ...string) ([]string, error) {
	sources := []string{""}
	for _, name := range a.Names() {
		if archive.IsRelsPath(name) && name != archive.RelsPath("") {
			sources = append(sources, archive.SourceOf(name))
		}
	}

	found := make(map[string]bool)
	for _, source := range sources {
		rels, err := a.Relationships(source)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if !lo.ContainsBy(relTypes, r.TypeIs) {
				continue
			}
			if target, ok := r.Resolve(); ok && a.Has(target) {
				found[target] = true
			}
		}
	}
	return lo.Filter(a.Names(), func(name string, _ int) bool { return found[name] }), nil
}
