package parser

import (
	"strings"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

// ChartParts lists chart parts in archive order.
func ChartParts(a *archive.Archive) []string {
	return a.Filter(func(p *archive.Part) bool {
		return strings.HasSuffix(p.ContentType, "drawingml.chart+xml") ||
			strings.HasSuffix(p.ContentType, "drawingml.chartshapes+xml") ||
			strings.HasSuffix(p.ContentType, "chartex+xml")
	})
}

// ChartsOfSheet returns the chart parts reachable from a sheet through its drawings.
func ChartsOfSheet(a *archive.Archive, sheetPath string) ([]string, error) {
	drawings, err := RelatedParts(a, sheetPath, archive.RelDrawing)
	if err != nil {
		return nil, err
	}
	var charts []string
	for _, drawing := range drawings {
		c, err := RelatedParts(a, drawing, archive.RelChart)
		if err != nil {
			return nil, err
		}
		charts = append(charts, c...)
	}
	return charts, nil
}
