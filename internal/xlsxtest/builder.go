// Package xlsxtest assembles small spreadsheet packages for tests.
package xlsxtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Content types used by fixtures.
const (
	TypeWorkbook        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"
	TypeWorkbookMacro   = "application/vnd.ms-excel.sheet.macroEnabled.main+xml"
	TypeWorksheet       = "application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"
	TypeDrawing         = "application/vnd.openxmlformats-officedocument.drawing+xml"
	TypeChart           = "application/vnd.openxmlformats-officedocument.drawingml.chart+xml"
	TypeTable           = "application/vnd.openxmlformats-officedocument.spreadsheetml.table+xml"
	TypeCalcChain       = "application/vnd.openxmlformats-officedocument.spreadsheetml.calcChain+xml"
	TypePrinterSettings = "application/vnd.openxmlformats-officedocument.spreadsheetml.printerSettings"
	TypeCustomXMLProps  = "application/vnd.openxmlformats-officedocument.customXmlProperties+xml"
	TypeCustomProps     = "application/vnd.openxmlformats-officedocument.custom-properties+xml"
	TypePivotCache      = "application/vnd.openxmlformats-officedocument.spreadsheetml.pivotCacheDefinition+xml"
	TypeVBA             = "application/vnd.ms-office.vbaProject"
)

// Relationship types used by fixtures.
const (
	RelBase            = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/"
	RelOfficeDocument  = RelBase + "officeDocument"
	RelWorksheet       = RelBase + "worksheet"
	RelDrawing         = RelBase + "drawing"
	RelImage           = RelBase + "image"
	RelChart           = RelBase + "chart"
	RelTable           = RelBase + "table"
	RelCalcChain       = RelBase + "calcChain"
	RelPrinterSettings = RelBase + "printerSettings"
	RelCustomXML       = RelBase + "customXml"
	RelCustomXMLProps  = RelBase + "customXmlProps"
	RelCustomProps     = RelBase + "custom-properties"
	RelPivotCache      = RelBase + "pivotCacheDefinition"
	RelThumbnail       = "http://schemas.openxmlformats.org/package/2006/relationships/metadata/thumbnail"
	RelVBAProject      = "http://schemas.microsoft.com/office/2006/relationships/vbaProject"
)

const (
	nsMain = "http://schemas.openxmlformats.org/spreadsheetml/2006/main"
	nsRel  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

type rel struct {
	id, typ, target string
}

type sheet struct {
	name, state, path, body, id string
	tail                        []string
}

type definedName struct {
	name, formula string
	local         int
	hidden        bool
}

// Builder collects parts and writes a package.
type Builder struct {
	workbookType string
	sheets       []*sheet
	names        []definedName
	parts        map[string][]byte
	order        []string
	overrides    map[string]string
	defaults     map[string]string
	rels         map[string][]rel
	drawings     int
	charts       int
}

// New returns a Builder for an ordinary workbook.
func New() *Builder {
	b := &Builder{
		workbookType: TypeWorkbook,
		parts:        make(map[string][]byte),
		overrides:    make(map[string]string),
		defaults: map[string]string{
			"rels": "application/vnd.openxmlformats-package.relationships+xml",
			"xml":  "application/xml",
		},
		rels: make(map[string][]rel),
	}
	b.Relate("", RelOfficeDocument, "xl/workbook.xml")
	return b
}

// MacroEnabled switches the workbook content type to the macro-enabled variant.
func (b *Builder) MacroEnabled() *Builder {
	b.workbookType = TypeWorkbookMacro
	return b
}

// AddSheet adds a worksheet whose <worksheet> body is body. state may be
// "", "hidden" or "veryHidden". It returns the sheet part path.
func (b *Builder) AddSheet(name, state, body string) string {
	p := fmt.Sprintf("xl/worksheets/sheet%d.xml", len(b.sheets)+1)
	id := b.Relate("xl/workbook.xml", RelWorksheet, p)
	b.sheets = append(b.sheets, &sheet{name: name, state: state, path: p, body: body, id: id})
	b.overrides[p] = TypeWorksheet
	return p
}

// DefineName adds a defined name. local is the sheet index, or -1 for workbook scope.
func (b *Builder) DefineName(name string, local int, formula string) *Builder {
	b.names = append(b.names, definedName{name: name, local: local, formula: formula})
	return b
}

// DefineHiddenName adds a hidden defined name.
func (b *Builder) DefineHiddenName(name string, local int, formula string) *Builder {
	b.names = append(b.names, definedName{name: name, local: local, formula: formula, hidden: true})
	return b
}

// AddPart stores a part. Image types are registered as extension defaults,
// everything else as overrides.
func (b *Builder) AddPart(name, contentType string, data []byte) *Builder {
	if _, ok := b.parts[name]; !ok {
		b.order = append(b.order, name)
	}
	b.parts[name] = data
	if contentType == "" {
		return b
	}
	if strings.HasPrefix(contentType, "image/") {
		b.defaults[strings.TrimPrefix(path.Ext(name), ".")] = contentType
	} else {
		b.overrides[name] = contentType
	}
	return b
}

// Relate adds a relationship from source ("" for the package) to the archive
// path target and returns its id.
func (b *Builder) Relate(source, relType, target string) string {
	id := fmt.Sprintf("rId%d", len(b.rels[source])+1)
	b.rels[source] = append(b.rels[source], rel{id: id, typ: relType, target: target})
	return id
}

// AppendToSheet adds raw XML after the sheet body, e.g. <drawing r:id="..."/>.
func (b *Builder) AppendToSheet(sheetPath, fragment string) *Builder {
	for _, s := range b.sheets {
		if s.path == sheetPath {
			s.tail = append(s.tail, fragment)
		}
	}
	return b
}

// AddPicture creates a drawing on the sheet that shows media and returns the
// drawing part path. The drawing is reused when the sheet already has one.
func (b *Builder) AddPicture(sheetPath, mediaPath, contentType string, data []byte, cx, cy int64) string {
	b.AddPart(mediaPath, contentType, data)
	drawing := b.drawingOf(sheetPath)
	id := b.Relate(drawing, RelImage, mediaPath)
	anchor := fmt.Sprintf(`<xdr:oneCellAnchor><xdr:from><xdr:col>0</xdr:col><xdr:colOff>0</xdr:colOff><xdr:row>0</xdr:row><xdr:rowOff>0</xdr:rowOff></xdr:from>`+
		`<xdr:ext cx="%d" cy="%d"/><xdr:pic><xdr:nvPicPr><xdr:cNvPr id="%d" name="Picture %d"/><xdr:cNvPicPr/></xdr:nvPicPr>`+
		`<xdr:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></xdr:blipFill>`+
		`<xdr:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></xdr:spPr></xdr:pic><xdr:clientData/></xdr:oneCellAnchor>`,
		cx, cy, len(b.rels[drawing])+1, len(b.rels[drawing]), id, cx, cy)
	b.parts[drawing] = append(b.parts[drawing], anchor...)
	return drawing
}

// AddChart places a chart whose first series values come from seriesFormula
// on the sheet and returns the chart part path.
func (b *Builder) AddChart(sheetPath, seriesFormula string) string {
	drawing := b.drawingOf(sheetPath)
	b.charts++
	chart := fmt.Sprintf("xl/charts/chart%d.xml", b.charts)
	b.AddPart(chart, TypeChart, []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+"\n"+
		`<c:chartSpace xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">`+
		`<c:chart><c:plotArea><c:barChart><c:ser><c:idx val="0"/><c:val><c:numRef><c:f>`+escape(seriesFormula)+`</c:f></c:numRef></c:val></c:ser></c:barChart></c:plotArea></c:chart></c:chartSpace>`))
	id := b.Relate(drawing, RelChart, chart)
	frame := fmt.Sprintf(`<xdr:absoluteAnchor><xdr:pos x="0" y="0"/><xdr:ext cx="4572000" cy="2743200"/><xdr:graphicFrame macro="">`+
		`<xdr:nvGraphicFramePr><xdr:cNvPr id="%d" name="Chart %d"/><xdr:cNvGraphicFramePr/></xdr:nvGraphicFramePr>`+
		`<xdr:xfrm><a:off x="0" y="0"/><a:ext cx="0" cy="0"/></xdr:xfrm><a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/chart">`+
		`<c:chart xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart" r:id="%s"/></a:graphicData></a:graphic></xdr:graphicFrame><xdr:clientData/></xdr:absoluteAnchor>`,
		len(b.rels[drawing])+1, len(b.rels[drawing]), id)
	b.parts[drawing] = append(b.parts[drawing], frame...)
	return chart
}

func (b *Builder) drawingOf(sheetPath string) string {
	for _, r := range b.rels[sheetPath] {
		if r.typ == RelDrawing {
			return r.target
		}
	}
	b.drawings++
	drawing := fmt.Sprintf("xl/drawings/drawing%d.xml", b.drawings)
	id := b.Relate(sheetPath, RelDrawing, drawing)
	b.AppendToSheet(sheetPath, fmt.Sprintf(`<drawing r:id="%s"/>`, id))
	b.AddPart(drawing, TypeDrawing, nil)
	return drawing
}

// Bytes writes the package.
func (b *Builder) Bytes() []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name string, data []byte) {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(data); err != nil {
			panic(err)
		}
	}

	b.overrides["xl/workbook.xml"] = b.workbookType
	write("[Content_Types].xml", []byte(b.contentTypes()))
	write("xl/workbook.xml", []byte(b.workbook()))
	for _, s := range b.sheets {
		write(s.path, []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+"\n"+
			`<worksheet xmlns="%s" xmlns:r="%s">%s%s</worksheet>`, nsMain, nsRel, s.body, strings.Join(s.tail, ""))))
	}
	for _, name := range b.order {
		data := b.parts[name]
		if b.overrides[name] == TypeDrawing {
			data = []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
				`<xdr:wsDr xmlns:xdr="http://schemas.openxmlformats.org/drawingml/2006/spreadsheetDrawing" ` +
				`xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="` + nsRel + `">` +
				string(data) + `</xdr:wsDr>`)
		}
		write(name, data)
	}
	sources := make([]string, 0, len(b.rels))
	for source := range b.rels {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		write(relsPath(source), []byte(b.relsXML(source)))
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (b *Builder) workbook() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	fmt.Fprintf(&sb, `<workbook xmlns="%s" xmlns:r="%s"><sheets>`, nsMain, nsRel)
	for i, s := range b.sheets {
		state := ""
		if s.state != "" {
			state = fmt.Sprintf(` state="%s"`, s.state)
		}
		fmt.Fprintf(&sb, `<sheet name="%s" sheetId="%d"%s r:id="%s"/>`, escape(s.name), i+1, state, s.id)
	}
	sb.WriteString(`</sheets>`)
	if len(b.names) > 0 {
		sb.WriteString("\n<definedNames>")
		for _, n := range b.names {
			sb.WriteString("\n  <definedName")
			fmt.Fprintf(&sb, ` name="%s"`, escape(n.name))
			if n.local >= 0 {
				fmt.Fprintf(&sb, ` localSheetId="%d"`, n.local)
			}
			if n.hidden {
				sb.WriteString(` hidden="1"`)
			}
			fmt.Fprintf(&sb, `>%s</definedName>`, escape(n.formula))
		}
		sb.WriteString("\n</definedNames>")
	}
	sb.WriteString(`<calcPr calcId="191029"/></workbook>`)
	return sb.String()
}

func (b *Builder) contentTypes() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	sb.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	exts := make([]string, 0, len(b.defaults))
	for ext := range b.defaults {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		fmt.Fprintf(&sb, `<Default Extension="%s" ContentType="%s"/>`, ext, b.defaults[ext])
	}
	names := make([]string, 0, len(b.overrides))
	for name := range b.overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, `<Override PartName="/%s" ContentType="%s"/>`, name, b.overrides[name])
	}
	sb.WriteString(`</Types>`)
	return sb.String()
}

func (b *Builder) relsXML(source string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for _, r := range b.rels[source] {
		fmt.Fprintf(&sb, `<Relationship Id="%s" Type="%s" Target="%s"/>`, r.id, r.typ, relTarget(source, r.target))
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

func relsPath(source string) string {
	if source == "" {
		return "_rels/.rels"
	}
	dir, file := path.Split(source)
	return dir + "_rels/" + file + ".rels"
}

// relTarget expresses target relative to the source directory, as Excel writes it.
func relTarget(source, target string) string {
	if source == "" {
		return target
	}
	from := strings.Split(path.Dir(source), "/")
	to := strings.Split(target, "/")
	i := 0
	for i < len(from) && i < len(to)-1 && from[i] == to[i] {
		i++
	}
	parts := make([]string, 0, len(from)-i+len(to)-i)
	for range from[i:] {
		parts = append(parts, "..")
	}
	return strings.Join(append(parts, to[i:]...), "/")
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// Formula returns a sheet body with one formula cell per entry, in column A.
func Formula(formulas ...string) string {
	var sb strings.Builder
	sb.WriteString("<sheetData>")
	for i, f := range formulas {
		fmt.Fprintf(&sb, `<row r="%d"><c r="A%d"><f>%s</f></c></row>`, i+1, i+1, escape(f))
	}
	sb.WriteString("</sheetData>")
	return sb.String()
}
