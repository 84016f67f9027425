package parser

import (
	"bytes"
	"encoding/xml"
	"io"

	"golang.org/x/text/cases"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

// Sheet visibility states as written in workbook.xml.
const (
	StateVisible    = "visible"
	StateHidden     = "hidden"
	StateVeryHidden = "veryHidden"
)

// Sheet is one entry of the workbook's <sheets> list.
type Sheet struct {
	// Name is the sheet tab name.
	Name string
	// Index is the zero-based position, which localSheetId refers to.
	Index int
	// State is visible, hidden or veryHidden.
	State string
	// RelID is the workbook relationship id of the sheet part.
	RelID string
	// Path is the resolved sheet part, empty when the relationship is missing.
	Path string
}

// Hidden reports whether the sheet is hidden or very hidden.
func (s Sheet) Hidden() bool {
	return s.State == StateHidden || s.State == StateVeryHidden
}

// Workbook is the sheet list of a package.
type Workbook struct {
	Path   string
	Sheets []Sheet
	byName map[string]int
}

// FoldName normalizes a sheet or defined name for case-insensitive comparison.
// A Caser is stateful, so each call gets its own.
func FoldName(s string) string {
	return cases.Fold().String(s)
}

// ReadWorkbook parses the sheet list of the workbook part.
func ReadWorkbook(a *archive.Archive) (*Workbook, error) {
	wbPath := a.WorkbookPath()
	part, ok := a.Part(wbPath)
	if !ok {
		return nil, archive.NewError(archive.KindInvalidArchive, wbPath, archive.ErrPartNotFound)
	}
	sheets, err := parseWorkbookSheets(part.Data)
	if err != nil {
		return nil, archive.NewError(archive.KindXMLParse, wbPath, err)
	}
	rels, err := a.Relationships(wbPath)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels))
	for _, r := range rels {
		if t, ok := r.Resolve(); ok {
			targets[r.ID] = t
		}
	}

	wb := &Workbook{Path: wbPath, Sheets: sheets, byName: make(map[string]int, len(sheets))}
	for i := range wb.Sheets {
		wb.Sheets[i].Path = targets[wb.Sheets[i].RelID]
		wb.byName[FoldName(wb.Sheets[i].Name)] = i
	}
	return wb, nil
}

// SheetIndex finds a sheet by name, ignoring case.
func (w *Workbook) SheetIndex(name string) (int, bool) {
	i, ok := w.byName[FoldName(name)]
	return i, ok
}

// SheetAt returns the sheet at index, if any.
func (w *Workbook) SheetAt(index int) (Sheet, bool) {
	if index < 0 || index >= len(w.Sheets) {
		return Sheet{}, false
	}
	return w.Sheets[index], true
}

// SheetOfPart maps a sheet part path to its index.
func (w *Workbook) SheetOfPart(partPath string) (int, bool) {
	for _, s := range w.Sheets {
		if s.Path == partPath {
			return s.Index, true
		}
	}
	return -1, false
}

func parseWorkbookSheets(data []byte) ([]Sheet, error) {
	var sheets []Sheet
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
		if !ok || se.Name.Local != "sheet" {
			continue
		}
		s := Sheet{Index: len(sheets), State: StateVisible}
		for _, attr := range se.Attr {
			switch attr.Name.Local {
			case "name":
				s.Name = attr.Value
			case "state":
				s.State = attr.Value
			case "id":
				s.RelID = attr.Value
			}
		}
		sheets = append(sheets, s)
	}

	return sheets, nil
}
