package exslim

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
	"github.com/ukaji3/exslim-go/pkg/exslim/imaging"
	"github.com/ukaji3/exslim-go/pkg/exslim/models"
	"github.com/ukaji3/exslim-go/pkg/exslim/names"
	"github.com/ukaji3/exslim-go/pkg/exslim/parser"
	"github.com/ukaji3/exslim-go/pkg/exslim/precision"
)

// outcome is what a stage produced on its working copy.
type outcome struct {
	changed bool
	actions []models.Action
	// record copies the stage's counters into the report once committed.
	record func(*models.Report)
}

type stage struct {
	name    string
	enabled bool
	run     func(ctx context.Context, a *archive.Archive) (*outcome, error)
}

// SlimFile reads a package from disk and slims it.
func SlimFile(path string, opts Options) (*models.Report, error) {
	return SlimFileContext(context.Background(), path, opts)
}

// SlimFileContext is SlimFile with a context.
func SlimFileContext(ctx context.Context, path string, opts Options) (*models.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, archive.NewError(archive.KindIO, path, err)
	}
	return Slim(ctx, data, opts)
}

// Slim runs the enabled stages over input. Each stage works on a copy of the
// package and its changes are kept only when it succeeds. A load failure
// returns a nil report; any later failure returns a report whose Output is
// the input, together with the error.
func Slim(ctx context.Context, input []byte, opts Options) (*models.Report, error) {
	opts = opts.normalize()
	runID := uuid.NewString()
	rec := newRecorder(opts.Logger.Handler())
	logger := slog.New(rec).With("run", runID)

	report := &models.Report{RunID: runID, InputBytes: int64(len(input))}

	a, err := archive.Load(input)
	if err != nil {
		logger.Error("cannot load package", "error", err, "kind", string(KindOf(err)))
		return nil, err
	}
	logger.Info("package loaded", "parts", len(a.Names()), "bytes", len(input), "workbook", a.WorkbookPath())

	fail := func(err error) (*models.Report, error) {
		logger.Error("run failed; input left unchanged", "error", err, "kind", string(KindOf(err)))
		report.Output = input
		report.OutputBytes = report.InputBytes
		report.Changed = false
		// Nothing from earlier stages reaches the output.
		report.Summary = models.Summary{}
		report.RemovedNames = nil
		report.Images = nil
		report.Actions = lo.Filter(report.Actions, func(a models.Action, _ int) bool { return a.Kind == models.ActionRollback })
		report.Error = err.Error()
		report.Events = rec.Events()
		return report, err
	}

	stages := []stage{
		{models.StageNames, opts.CleanNames, func(ctx context.Context, a *archive.Archive) (*outcome, error) {
			return cleanNames(a, opts, logger.With("stage", models.StageNames))
		}},
		{models.StageImages, opts.SlimImages, func(ctx context.Context, a *archive.Archive) (*outcome, error) {
			return slimImages(ctx, a, opts, logger.With("stage", models.StageImages))
		}},
		{models.StagePrecision, opts.precisionEnabled(), func(ctx context.Context, a *archive.Archive) (*outcome, error) {
			return cleanPrecision(ctx, a, opts, logger.With("stage", models.StagePrecision))
		}},
	}

	changed := false
	for _, st := range stages {
		if !st.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		work, err := a.Clone()
		if err != nil {
			return fail(archive.NewError(archive.KindIO, "", err))
		}
		out, err := st.run(ctx, work)
		if err != nil {
			report.Actions = append(report.Actions, models.Action{Stage: st.name, Kind: models.ActionRollback, Target: st.name, Detail: err.Error()})
			return fail(err)
		}
		out.record(report)
		if !out.changed {
			logger.Debug("stage made no changes", "stage", st.name)
			continue
		}
		a = work
		changed = true
		report.Actions = append(report.Actions, out.actions...)
	}

	if !changed {
		logger.Info("nothing to change; output is the input")
		report.Output = input
		report.OutputBytes = report.InputBytes
		report.Events = rec.Events()
		return report, nil
	}

	output, err := a.Serialize()
	if err != nil {
		return fail(archive.NewError(archive.KindIO, "", err))
	}

	if opts.Verify {
		v, err := verify(input, output)
		if err != nil {
			return fail(err)
		}
		report.Verification = v
		if !v.OK() {
			return fail(archive.Errorf(archive.KindReferenceIntegrity, "", "%w: %s", ErrVerification, v.Mismatches[0]))
		}
		logger.Info("output verified", "sheets", v.Sheets, "rows", v.Rows)
	}

	report.Output = output
	report.OutputBytes = int64(len(output))
	report.Changed = true
	logger.Info("package slimmed",
		"input_bytes", report.InputBytes,
		"output_bytes", report.OutputBytes,
		"saved", report.BytesSaved())
	report.Events = rec.Events()
	return report, nil
}

func cleanNames(a *archive.Archive, opts Options, logger *slog.Logger) (*outcome, error) {
	wb, err := parser.ReadWorkbook(a)
	if err != nil {
		return nil, err
	}
	res, err := names.New(names.Options{Aggressive: opts.Aggressive}, logger).Clean(a)
	if err != nil {
		return nil, err
	}

	removed := lo.Map(res.Removed, func(n names.DefinedName, _ int) models.RemovedName {
		rn := models.RemovedName{Name: n.Name, Formula: n.Formula}
		if s, ok := wb.SheetAt(n.LocalSheetID); ok {
			rn.Scope = s.Name
		}
		return rn
	})
	actions := lo.Map(removed, func(n models.RemovedName, _ int) models.Action {
		return models.Action{Stage: models.StageNames, Kind: models.ActionRemoveName, Target: n.Name, Detail: n.Scope}
	})

	return &outcome{
		changed: res.Changed,
		actions: actions,
		record: func(r *models.Report) {
			r.Summary.NamesTotal = res.Total
			r.Summary.NamesRemoved = len(res.Removed)
			r.RemovedNames = removed
		},
	}, nil
}

func slimImages(ctx context.Context, a *archive.Archive, opts Options, logger *slog.Logger) (*outcome, error) {
	results, err := imaging.NewSlimmer(opts.Image, logger).Slim(ctx, a)
	if err != nil {
		return nil, err
	}

	var actions []models.Action
	images := make([]models.ImageResult, 0, len(results))
	var summary models.Summary
	for _, r := range results {
		ir := models.ImageResult{
			Part:    r.Part,
			Format:  string(r.Format),
			Before:  r.Before,
			After:   r.Before,
			Width:   r.Width,
			Height:  r.Height,
			Skipped: string(r.Skip),
		}
		if r.Err != nil {
			ir.Error = r.Err.Error()
		}
		summary.ImagesProcessed++
		if r.Changed() {
			ir.After = r.After
			summary.ImagesRecompressed++
			summary.ImageBytesSaved += r.Saved()
			actions = append(actions, models.Action{
				Stage: models.StageImages, Kind: models.ActionRecompress, Target: r.Part,
				Before: r.Before, After: r.After,
			})
		} else {
			summary.ImagesSkipped++
		}
		images = append(images, ir)
	}

	return &outcome{
		changed: summary.ImagesRecompressed > 0,
		actions: actions,
		record: func(r *models.Report) {
			r.Images = images
			r.Summary.ImagesProcessed = summary.ImagesProcessed
			r.Summary.ImagesRecompressed = summary.ImagesRecompressed
			r.Summary.ImagesSkipped = summary.ImagesSkipped
			r.Summary.ImageBytesSaved = summary.ImageBytesSaved
		},
	}, nil
}

func cleanPrecision(ctx context.Context, a *archive.Archive, opts Options, logger *slog.Logger) (*outcome, error) {
	c := precision.New(precision.Options{
		XMLCleanup:     opts.XMLCleanup,
		ForceCustomXML: opts.ForceCustomXML,
		ConvertFrom:    opts.ConvertFrom,
		ConvertTo:      opts.ConversionTarget(),
		Image:          opts.Image,
	}, logger)
	res, err := c.Clean(ctx, a)
	if err != nil {
		return nil, err
	}

	var actions []models.Action
	for _, p := range res.Removed {
		actions = append(actions, models.Action{Stage: models.StagePrecision, Kind: models.ActionRemovePart, Target: p})
	}
	for _, cv := range res.Conversions {
		actions = append(actions, models.Action{
			Stage: models.StagePrecision, Kind: models.ActionConvertImage, Target: cv.From,
			Detail: cv.To, Before: cv.Before, After: cv.After,
		})
	}

	return &outcome{
		changed: len(actions) > 0,
		actions: actions,
		record: func(r *models.Report) {
			r.Summary.PartsRemoved = len(res.Removed)
			r.Summary.Conversions = len(res.Conversions)
		},
	}, nil
}
