package names

import (
	"log/slog"
	"strings"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

// Options configures the cleaner.
type Options struct {
	// Aggressive also removes names scoped to a hidden sheet that are only
	// used from that same sheet.
	Aggressive bool
}

// Result summarizes one cleaning pass.
type Result struct {
	Total   int
	Removed []DefinedName
	// Changed is false when the workbook part was left untouched.
	Changed bool
}

// Cleaner removes unused defined names from a workbook.
type Cleaner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Cleaner. A nil logger discards output.
func New(opts Options, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cleaner{opts: opts, logger: logger}
}

// Clean analyzes the archive and rewrites its workbook part without the
// unused names.
func (c *Cleaner) Clean(a *archive.Archive) (*Result, error) {
	if hasMacros(a) {
		c.logger.Warn("workbook contains a VBA project; names referenced only from macros may be removed")
	}

	an, err := Analyze(a, c.opts)
	if err != nil {
		return nil, err
	}
	res := &Result{Total: len(an.Names)}

	unused := an.Unused()
	if len(unused) == 0 {
		c.logger.Debug("no unused defined names", "total", res.Total)
		return res, nil
	}

	drop := make(map[int]bool, len(unused))
	for _, i := range unused {
		drop[i] = true
		res.Removed = append(res.Removed, an.Names[i])
		c.logger.Debug("removing defined name", "name", an.Names[i].Name, "scope", an.Names[i].LocalSheetID)
	}

	part, _ := a.Part(an.wb.Path)
	data := removeEntries(part.Data, an.parsed, drop)
	if err := a.PutPart(an.wb.Path, data, ""); err != nil {
		return nil, err
	}
	res.Changed = true

	c.logger.Info("defined names cleaned", "total", res.Total, "removed", len(res.Removed))
	return res, nil
}

func hasMacros(a *archive.Archive) bool {
	wb, _ := a.Part(a.WorkbookPath())
	if wb != nil && strings.Contains(wb.ContentType, "macroEnabled") {
		return true
	}
	return len(a.Filter(func(p *archive.Part) bool {
		return strings.Contains(p.ContentType, "vbaProject")
	})) > 0
}
