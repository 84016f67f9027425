// Package exslim shrinks spreadsheet packages: it drops unused defined names,
// recompresses images and removes auxiliary parts Excel can rebuild.
package exslim

import (
	"log/slog"

	"github.com/ukaji3/exslim-go/pkg/exslim/imaging"
)

// Options configures a run. The zero value changes nothing.
type Options struct {
	// CleanNames removes defined names nothing refers to.
	CleanNames bool
	// SlimImages recompresses images in their own format.
	SlimImages bool
	// Precision enables the auxiliary-part cleanup and image conversion stage.
	Precision bool
	// Aggressive removes names used only inside their own hidden sheet and,
	// with Precision and no ConvertTo, converts PNG images to JPEG.
	Aggressive bool
	// XMLCleanup removes the calculation chain, printer settings and thumbnail.
	XMLCleanup bool
	// ForceCustomXML removes custom XML data and custom document properties.
	ForceCustomXML bool
	// Image holds the resize and quality targets.
	Image imaging.Options
	// ConvertTo is the image conversion target; empty disables conversion.
	ConvertTo imaging.Format
	// ConvertFrom is the source format; empty picks the usual one for ConvertTo.
	ConvertFrom imaging.Format
	// Workers bounds image concurrency. Zero uses the CPU count, capped at 8.
	Workers int
	// Verify reopens the output and compares sheets and cached cell values
	// with the input.
	Verify bool
	// Logger receives progress records. Nil discards them.
	Logger *slog.Logger
}

// DefaultOptions returns the options of a standard run: name cleanup and
// image recompression with default targets.
func DefaultOptions() Options {
	return Options{
		CleanNames: true,
		SlimImages: true,
		Image:      imaging.DefaultOptions(),
	}
}

// ConversionTarget returns the effective conversion target of the precision stage.
func (o Options) ConversionTarget() imaging.Format {
	if o.ConvertTo != imaging.FormatUnknown {
		return o.ConvertTo
	}
	if o.Precision && o.Aggressive {
		return imaging.FormatJPEG
	}
	return imaging.FormatUnknown
}

// precisionEnabled reports whether the precision stage has anything to do.
func (o Options) precisionEnabled() bool {
	return o.Precision && (o.XMLCleanup || o.ForceCustomXML || o.ConversionTarget() != imaging.FormatUnknown)
}

func (o Options) normalize() Options {
	if o.Workers > 0 {
		o.Image.Workers = o.Workers
	}
	o.Image = o.Image.Normalize()
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
