package archive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukaji3/exslim-go/internal/xlsxtest"
)

func pictureBook(t *testing.T) *Archive {
	t.Helper()
	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "")
	b.AddPicture(sheet, "xl/media/image1.png", "image/png", []byte("png-bytes"), 952500, 952500)
	a, err := Load(b.Bytes())
	require.NoError(t, err)
	return a
}

func TestApplyRename(t *testing.T) {
	a := pictureBook(t)
	s := NewSynchronizer(a)

	require.NoError(t, s.ApplyRename("xl/media/image1.png", "xl/media/image1.jpeg", "image/jpeg"))

	assert.False(t, a.Has("xl/media/image1.png"))
	p, ok := a.Part("xl/media/image1.jpeg")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", p.ContentType)
	assert.Equal(t, "png-bytes", string(p.Data), "rename does not touch bytes")

	rels, err := a.Relationships("xl/drawings/drawing1.xml")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "../media/image1.jpeg", rels[0].Target)

	_, ok = a.ContentTypes().Default("png")
	assert.False(t, ok, "png default is orphaned and dropped")

	dangling, err := s.Dangling()
	require.NoError(t, err)
	assert.Empty(t, dangling)
}

func TestApplyRename_KeepsOrderSlot(t *testing.T) {
	a := pictureBook(t)
	before := a.Names()
	require.NoError(t, NewSynchronizer(a).ApplyRename("xl/media/image1.png", "xl/media/image1.jpeg", "image/jpeg"))
	after := a.Names()
	require.Len(t, after, len(before))
	for i := range before {
		if before[i] == "xl/media/image1.png" {
			assert.Equal(t, "xl/media/image1.jpeg", after[i])
		}
	}
}

func TestApplyRename_Errors(t *testing.T) {
	a := pictureBook(t)
	s := NewSynchronizer(a)

	assert.ErrorIs(t, s.ApplyRename("xl/media/missing.png", "xl/media/x.png", ""), ErrReferenceIntegrity)
	assert.ErrorIs(t, s.ApplyRename("xl/media/image1.png", "xl/worksheets/sheet1.xml", ""), ErrReferenceIntegrity)
	assert.ErrorIs(t, s.ApplyRename("xl/media/image1.png", "xl/media/image1.png", ""), ErrReferenceIntegrity)
}

func TestApplyRename_CorruptRelationships(t *testing.T) {
	a := pictureBook(t)
	relsPart, ok := a.Part(RelsPath("xl/drawings/drawing1.xml"))
	require.True(t, ok)
	relsPart.Data = []byte("<Relationships><Relationship")

	err := NewSynchronizer(a).ApplyRename("xl/media/image1.png", "xl/media/image1.jpeg", "image/jpeg")
	assert.ErrorIs(t, err, ErrReferenceIntegrity)
	assert.True(t, a.Has("xl/media/image1.png"), "nothing is mutated when the graph cannot be read")
}

func TestApplyRemoval_CalcChain(t *testing.T) {
	b := xlsxtest.New()
	b.AddSheet("Sheet1", "", xlsxtest.Formula("1+1"))
	b.AddPart("xl/calcChain.xml", xlsxtest.TypeCalcChain, []byte(`<calcChain><c r="A1" i="1"/></calcChain>`))
	b.Relate("xl/workbook.xml", xlsxtest.RelCalcChain, "xl/calcChain.xml")
	a, err := Load(b.Bytes())
	require.NoError(t, err)
	wbBefore, _ := a.Part("xl/workbook.xml")
	wbData := string(wbBefore.Data)

	s := NewSynchronizer(a)
	require.NoError(t, s.ApplyRemoval("xl/calcChain.xml"))

	assert.False(t, a.Has("xl/calcChain.xml"))
	_, ok := a.ContentTypes().Override("xl/calcChain.xml")
	assert.False(t, ok)

	rels, err := a.Relationships("xl/workbook.xml")
	require.NoError(t, err)
	for _, r := range rels {
		assert.False(t, r.TypeIs(RelCalcChain))
	}
	wbAfter, _ := a.Part("xl/workbook.xml")
	assert.Equal(t, wbData, string(wbAfter.Data))

	dangling, err := s.Dangling()
	require.NoError(t, err)
	assert.Empty(t, dangling)
}

func TestApplyRemoval_StripsPageSetup(t *testing.T) {
	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "<sheetData/>")
	id := b.Relate(sheet, xlsxtest.RelPrinterSettings, "xl/printerSettings/printerSettings1.bin")
	b.AppendToSheet(sheet, `<pageSetup paperSize="9" orientation="portrait" r:id="`+id+`"/>`)
	b.AddPart("xl/printerSettings/printerSettings1.bin", xlsxtest.TypePrinterSettings, []byte{0, 1, 2, 3})
	a, err := Load(b.Bytes())
	require.NoError(t, err)

	require.NoError(t, NewSynchronizer(a).ApplyRemoval("xl/printerSettings/printerSettings1.bin"))

	p, _ := a.Part(sheet)
	body := string(p.Data)
	assert.Contains(t, body, `<pageSetup paperSize="9" orientation="portrait"/>`)
	assert.NotContains(t, body, id)
	assert.False(t, a.Has(RelsPath(sheet)), "emptied rels file is removed")
}

func TestApplyRemoval_MandatoryReferenceFails(t *testing.T) {
	a := pictureBook(t)
	err := NewSynchronizer(a).ApplyRemoval("xl/drawings/drawing1.xml")
	assert.ErrorIs(t, err, ErrReferenceIntegrity, "a <drawing r:id> cannot be dropped silently")
}

func TestApplyRemoval_Cascades(t *testing.T) {
	b := xlsxtest.New()
	b.AddSheet("Sheet1", "", "")
	b.AddPart("customXml/item1.xml", "", []byte("<root/>"))
	b.AddPart("customXml/itemProps1.xml", xlsxtest.TypeCustomXMLProps, []byte("<ds:datastoreItem/>"))
	b.Relate("customXml/item1.xml", xlsxtest.RelCustomXMLProps, "customXml/itemProps1.xml")
	b.Relate("xl/workbook.xml", xlsxtest.RelCustomXML, "customXml/item1.xml")
	a, err := Load(b.Bytes())
	require.NoError(t, err)

	require.NoError(t, NewSynchronizer(a).ApplyRemoval("customXml/item1.xml"))
	for _, name := range a.Names() {
		assert.False(t, strings.HasPrefix(name, "customXml/"), name)
	}
}

func TestApplyRemoval_RefusesWorkbook(t *testing.T) {
	a := pictureBook(t)
	assert.ErrorIs(t, NewSynchronizer(a).ApplyRemoval("xl/workbook.xml"), ErrReferenceIntegrity)
}
