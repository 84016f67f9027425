package parser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

// NoSheet is the origin of formulas that do not belong to any sheet.
const NoSheet = -1

// FormulaSource is the set of formulas found in one part.
type FormulaSource struct {
	// Part is the part the formulas were read from.
	Part string
	// Origin is the index of the owning sheet, or NoSheet.
	Origin int
	// Formulas are the raw formula texts, without a leading '='.
	Formulas []string
}

// formulaElements are elements whose text content is a formula: cell
// formulas, data validation and conditional formatting rules, x14 extension
// formulas (xm:f), table column formulas and chart references (c:f).
var formulaElements = map[string]bool{
	"f":                       true,
	"formula":                 true,
	"formula1":                true,
	"formula2":                true,
	"calculatedColumnFormula": true,
	"totalsRowFormula":        true,
}

// formulaAttributes are element/attribute pairs holding a name or reference.
var formulaAttributes = map[string]string{
	"hyperlink":       "location",
	"worksheetSource": "name",
	"cacheField":      "formula",
}

// CollectFormulaSources reads every part that can mention a defined name and
// tags each with the sheet it belongs to.
func CollectFormulaSources(a *archive.Archive, wb *Workbook) ([]FormulaSource, error) {
	var sources []FormulaSource
	seen := make(map[string]bool)

	add := func(partPath string, origin int) error {
		if seen[partPath] || !a.Has(partPath) {
			return nil
		}
		seen[partPath] = true
		part, _ := a.Part(partPath)
		formulas, err := parseFormulas(part.Data)
		if err != nil {
			return archive.NewError(archive.KindXMLParse, partPath, err)
		}
		if len(formulas) > 0 {
			sources = append(sources, FormulaSource{Part: partPath, Origin: origin, Formulas: formulas})
		}
		return nil
	}

	for _, s := range wb.Sheets {
		if s.Path == "" {
			continue
		}
		if err := add(s.Path, s.Index); err != nil {
			return nil, err
		}
		tables, err := RelatedParts(a, s.Path, archive.RelTable)
		if err != nil {
			return nil, err
		}
		charts, err := ChartsOfSheet(a, s.Path)
		if err != nil {
			return nil, err
		}
		for _, p := range append(tables, charts...) {
			if err := add(p, s.Index); err != nil {
				return nil, err
			}
		}
	}

	// Pivot caches and charts not reachable from a sheet resolve names globally.
	rest := a.Filter(func(p *archive.Part) bool {
		return strings.Contains(p.ContentType, "pivotCacheDefinition") ||
			strings.Contains(p.ContentType, "spreadsheetml.table+xml")
	})
	rest = append(rest, ChartParts(a)...)
	for _, p := range rest {
		if err := add(p, NoSheet); err != nil {
			return nil, err
		}
	}

	return sources, nil
}

func parseFormulas(data []byte) ([]string, error) {
	var formulas []string
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if attrName, ok := formulaAttributes[se.Name.Local]; ok {
			for _, attr := range se.Attr {
				if attr.Name.Local == attrName && strings.TrimSpace(attr.Value) != "" {
					formulas = append(formulas, attr.Value)
				}
			}
		}
		if formulaElements[se.Name.Local] {
			txt, err := readElementText(decoder)
			if err != nil {
				return nil, err
			}
			if txt = strings.TrimSpace(txt); txt != "" {
				formulas = append(formulas, txt)
			}
		}
	}

	return formulas, nil
}

func readElementText(decoder *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return sb.String(), err
		}
		switch t := token.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return sb.String(), nil
}
