package exslim

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ukaji3/exslim-go/internal/xlsxtest"
	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
	"github.com/ukaji3/exslim-go/pkg/exslim/imaging"
	"github.com/ukaji3/exslim-go/pkg/exslim/models"
)

func hiddenSheetBook() []byte {
	b := xlsxtest.New()
	b.AddSheet("Calc", "", xlsxtest.Formula("RateA*2"))
	b.AddSheet("Rates", "hidden", xlsxtest.Formula("HiddenRate*3"))
	b.DefineName("RateA", -1, "Calc!$B$1")
	b.DefineName("Unused", -1, "Calc!$C$1")
	b.DefineName("HiddenRate", 1, "Rates!$A$1")
	return b.Bytes()
}

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func excelizeBook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 10))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "label"))
	require.NoError(t, f.SetCellFormula("Sheet1", "B1", "Rate*2"))
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "Rate", RefersTo: "Sheet1!$A$1"}))
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "Leftover", RefersTo: "Sheet1!$A$2"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func partNames(t *testing.T, data []byte) []string {
	t.Helper()
	a, err := archive.Load(data)
	require.NoError(t, err)
	return a.Names()
}

func TestSlim_NoFlagsReturnsInput(t *testing.T) {
	input := hiddenSheetBook()
	report, err := Slim(context.Background(), input, Options{})
	require.NoError(t, err)
	assert.Equal(t, input, report.Output)
	assert.False(t, report.Changed)
	assert.Equal(t, report.InputBytes, report.OutputBytes)
	assert.Empty(t, report.Actions)
}

func TestSlim_NothingToChangeReturnsInput(t *testing.T) {
	b := xlsxtest.New()
	b.AddSheet("Sheet1", "", xlsxtest.Formula("Keep"))
	b.DefineName("Keep", -1, "Sheet1!$A$1")
	input := b.Bytes()

	report, err := Slim(context.Background(), input, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, input, report.Output)
	assert.False(t, report.Changed)
	assert.Equal(t, 1, report.Summary.NamesTotal)
}

func TestSlim_CorruptInput(t *testing.T) {
	report, err := Slim(context.Background(), []byte("this is not a zip file"), DefaultOptions())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrInvalidArchive)
	assert.Equal(t, KindInvalidArchive, KindOf(err))
}

func TestSlim_DefinedNames(t *testing.T) {
	tests := []struct {
		name       string
		aggressive bool
		removed    []string
	}{
		{"conservative", false, []string{"Unused"}},
		{"aggressive", true, []string{"Unused", "HiddenRate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Slim(context.Background(), hiddenSheetBook(), Options{CleanNames: true, Aggressive: tt.aggressive})
			require.NoError(t, err)
			assert.True(t, report.Changed)
			assert.Equal(t, 3, report.Summary.NamesTotal)
			assert.Equal(t, len(tt.removed), report.Summary.NamesRemoved)
			assert.ElementsMatch(t, tt.removed, lo.Map(report.RemovedNames, func(n models.RemovedName, _ int) string { return n.Name }))

			for _, n := range report.RemovedNames {
				if n.Name == "HiddenRate" {
					assert.Equal(t, "Rates", n.Scope)
				}
			}
			for _, a := range report.Actions {
				assert.Equal(t, models.ActionRemoveName, a.Kind)
			}

			// A second run finds nothing more to remove.
			again, err := Slim(context.Background(), report.Output, Options{CleanNames: true, Aggressive: tt.aggressive})
			require.NoError(t, err)
			assert.Equal(t, 0, again.Summary.NamesRemoved)
			assert.Equal(t, report.Output, again.Output)
		})
	}
}

func TestSlim_LargeImageShrinksPackage(t *testing.T) {
	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "")
	b.AddPicture(sheet, "xl/media/image1.png", "image/png", gradientPNG(t, 4000, 3000), 4000*9525, 3000*9525)
	input := b.Bytes()

	report, err := Slim(context.Background(), input, Options{SlimImages: true})
	require.NoError(t, err)
	assert.True(t, report.Changed)
	assert.Less(t, report.OutputBytes, report.InputBytes)
	assert.Equal(t, 1, report.Summary.ImagesRecompressed)
	assert.Positive(t, report.Summary.ImageBytesSaved)

	a, err := archive.Load(report.Output)
	require.NoError(t, err)
	part, ok := a.Part("xl/media/image1.png")
	require.True(t, ok)
	cfg, err := png.DecodeConfig(bytes.NewReader(part.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, max(cfg.Width, cfg.Height), imaging.DefaultMaxEdge)
}

func TestSlim_CalcChainRemoval(t *testing.T) {
	b := xlsxtest.New()
	b.AddSheet("Sheet1", "", xlsxtest.Formula("1+1"))
	b.AddPart("xl/calcChain.xml", xlsxtest.TypeCalcChain, []byte(`<calcChain xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><c r="A1" i="1"/></calcChain>`))
	b.Relate("xl/workbook.xml", xlsxtest.RelCalcChain, "xl/calcChain.xml")
	input := b.Bytes()

	report, err := Slim(context.Background(), input, Options{Precision: true, XMLCleanup: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.PartsRemoved)

	before, err := archive.Load(input)
	require.NoError(t, err)
	after, err := archive.Load(report.Output)
	require.NoError(t, err)
	assert.False(t, after.Has("xl/calcChain.xml"))

	dangling, err := archive.NewSynchronizer(after).Dangling()
	require.NoError(t, err)
	assert.Empty(t, dangling)

	for _, name := range []string{"xl/workbook.xml", "xl/worksheets/sheet1.xml"} {
		p1, _ := before.Part(name)
		p2, ok := after.Part(name)
		require.True(t, ok, name)
		assert.Equal(t, p1.Data, p2.Data, name)
	}
}

func TestSlim_FailedStageLeavesInput(t *testing.T) {
	b := xlsxtest.New()
	b.AddSheet("Sheet1", "", xlsxtest.Formula("1+1"))
	b.DefineName("Unused", -1, "Sheet1!$A$1")
	b.AddPart("xl/calcChain.xml", xlsxtest.TypeCalcChain, []byte(`<calcChain/>`))
	id := b.Relate("xl/workbook.xml", xlsxtest.RelCalcChain, "xl/calcChain.xml")

	// A workbook element that needs the relationship makes the removal fail.
	a, err := archive.Load(b.Bytes())
	require.NoError(t, err)
	wb, _ := a.Part("xl/workbook.xml")
	body := bytes.Replace(wb.Data, []byte("<calcPr"), []byte(`<extLst r:id="`+id+`"/><calcPr`), 1)
	require.NoError(t, a.PutPart("xl/workbook.xml", body, ""))
	input, err := a.Serialize()
	require.NoError(t, err)

	report, err := Slim(context.Background(), input, Options{CleanNames: true, Precision: true, XMLCleanup: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReferenceIntegrity)
	require.NotNil(t, report)
	assert.Equal(t, input, report.Output)
	assert.False(t, report.Changed)
	assert.NotEmpty(t, report.Error)
	// The names stage succeeded, but its removal is not in the output.
	assert.Equal(t, models.Summary{}, report.Summary)
	assert.Empty(t, report.RemovedNames)
	assert.Empty(t, report.Images)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, models.ActionRollback, report.Actions[0].Kind)
	assert.Equal(t, models.StagePrecision, report.Actions[0].Stage)
}

func TestSlim_Cancelled(t *testing.T) {
	input := hiddenSheetBook()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Slim(ctx, input, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, input, report.Output)
}

func TestSlim_AggressivePrecisionConvertsPNG(t *testing.T) {
	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "")
	b.AddPicture(sheet, "xl/media/image1.png", "image/png", gradientPNG(t, 400, 300), 952500, 714375)

	report, err := Slim(context.Background(), b.Bytes(), Options{Precision: true, Aggressive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Conversions)

	names := partNames(t, report.Output)
	assert.Contains(t, names, "xl/media/image1.jpeg")
	assert.NotContains(t, names, "xl/media/image1.png")
}

func TestSlim_Verify(t *testing.T) {
	report, err := Slim(context.Background(), excelizeBook(t), Options{CleanNames: true, Verify: true})
	require.NoError(t, err)
	require.NotNil(t, report.Verification)
	assert.True(t, report.Verification.OK(), report.Verification.Mismatches)
	assert.Equal(t, 1, report.Verification.Sheets)
	assert.Equal(t, []string{"Leftover"}, lo.Map(report.RemovedNames, func(n models.RemovedName, _ int) string { return n.Name }))

	f, err := excelize.OpenReader(bytes.NewReader(report.Output))
	require.NoError(t, err)
	defer f.Close()
	formula, err := f.GetCellFormula("Sheet1", "B1")
	require.NoError(t, err)
	assert.Equal(t, "Rate*2", formula)
	assert.Len(t, f.GetDefinedName(), 1)
}

func TestSlim_Events(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	report, err := Slim(context.Background(), hiddenSheetBook(), Options{CleanNames: true, Logger: logger})
	require.NoError(t, err)
	require.NotEmpty(t, report.Events)

	first := report.Events[0]
	assert.Equal(t, "package loaded", first.Message)
	assert.Equal(t, report.RunID, first.Attrs["run"])
	assert.Contains(t, buf.String(), "removing defined name", "debug records reach the caller's handler")
	for _, ev := range report.Events {
		assert.NotEqual(t, "DEBUG", ev.Level)
	}
}

func TestSlimFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")
	require.NoError(t, os.WriteFile(path, hiddenSheetBook(), 0o644))

	report, err := SlimFile(path, Options{CleanNames: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.NamesRemoved)

	_, err = SlimFile(filepath.Join(dir, "missing.xlsx"), DefaultOptions())
	assert.ErrorIs(t, err, ErrIO)
}

func TestOptions(t *testing.T) {
	assert.Equal(t, imaging.FormatUnknown, Options{Precision: true}.ConversionTarget())
	assert.Equal(t, imaging.FormatJPEG, Options{Precision: true, Aggressive: true}.ConversionTarget())
	assert.Equal(t, imaging.FormatPNG, Options{ConvertTo: imaging.FormatPNG}.ConversionTarget())
	assert.False(t, Options{Precision: true}.precisionEnabled())
	assert.True(t, Options{Precision: true, XMLCleanup: true}.precisionEnabled())

	o := Options{Workers: 3}.normalize()
	assert.Equal(t, 3, o.Image.Workers)
	assert.Equal(t, imaging.DefaultMaxEdge, o.Image.MaxEdge)
	assert.NotNil(t, o.Logger)
}
