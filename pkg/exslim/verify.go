package exslim

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
	"github.com/ukaji3/exslim-go/pkg/exslim/models"
	"github.com/ukaji3/exslim-go/pkg/exslim/parser"
)

const maxMismatches = 20

// verify reopens input and output and compares their sheet lists and cached
// cell values.
func verify(input, output []byte) (*models.Verification, error) {
	in, err := excelize.OpenReader(bytes.NewReader(input))
	if err != nil {
		return nil, archive.NewError(archive.KindInvalidArchive, "", fmt.Errorf("reopen input: %w", err))
	}
	defer in.Close()

	out, err := excelize.OpenReader(bytes.NewReader(output))
	if err != nil {
		return nil, archive.NewError(archive.KindInvalidArchive, "", fmt.Errorf("reopen output: %w", err))
	}
	defer out.Close()

	v := &models.Verification{}
	mismatch := func(format string, args ...any) {
		if len(v.Mismatches) < maxMismatches {
			v.Mismatches = append(v.Mismatches, fmt.Sprintf(format, args...))
		}
	}

	inSheets, outSheets := in.GetSheetList(), out.GetSheetList()
	if !slices.Equal(inSheets, outSheets) {
		mismatch("sheet list %v became %v", inSheets, outSheets)
	}

	for _, sheet := range inSheets {
		if !slices.Contains(outSheets, sheet) {
			continue
		}
		v.Sheets++
		before, err := parser.ReadCells(in, sheet)
		if err != nil {
			return nil, archive.NewError(archive.KindXMLParse, sheet, err)
		}
		after, err := parser.ReadCells(out, sheet)
		if err != nil {
			mismatch("sheet %q: %v", sheet, err)
			continue
		}
		v.Rows += len(before)
		if len(before) != len(after) {
			mismatch("sheet %q: %d rows became %d", sheet, len(before), len(after))
			continue
		}
		for i := range before {
			if before[i].R != after[i].R || !reflect.DeepEqual(before[i].C, after[i].C) {
				mismatch("sheet %q: row %d differs", sheet, before[i].R)
			}
		}
	}

	return v, nil
}
