package archive

import (
	"bytes"
	"encoding/xml"
	"net/url"
	"path"
	"strings"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const nsPackageRels = "http://schemas.openxmlformats.org/package/2006/relationships"

// Relationship type URIs the pipeline follows.
const (
	RelOfficeDocument  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	RelWorksheet       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet"
	RelChartsheet      = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/chartsheet"
	RelDrawing         = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/drawing"
	RelImage           = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
	RelChart           = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/chart"
	RelTable           = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/table"
	RelPivotCache      = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/pivotCacheDefinition"
	RelCalcChain       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/calcChain"
	RelPrinterSettings = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/printerSettings"
	RelCustomXML       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/customXml"
	RelCustomXMLProps  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/customXmlProps"
	RelCustomProps     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/custom-properties"
	RelThumbnail       = "http://schemas.openxmlformats.org/package/2006/relationships/metadata/thumbnail"
	RelVBAProject      = "http://schemas.microsoft.com/office/2006/relationships/vbaProject"
	RelVMLDrawing      = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/vmlDrawing"
)

// Relationship is one entry of a part's relationships file.
type Relationship struct {
	// Source is the owning part; empty for package-level relationships.
	Source string `xml:"-"`
	// ID is the identifier referenced as r:id from the source body.
	ID string `xml:"Id,attr"`
	// Type is the relationship type URI.
	Type string `xml:"Type,attr"`
	// Target is the raw target as written in the file.
	Target string `xml:"Target,attr"`
	// TargetMode is "External" for targets outside the package.
	TargetMode string `xml:"TargetMode,attr,omitempty"`
}

// External reports whether the target lives outside the package.
func (r Relationship) External() bool {
	return strings.EqualFold(r.TargetMode, "External")
}

// Resolve returns the archive path of an internal target.
func (r Relationship) Resolve() (string, bool) {
	if r.External() || r.Target == "" {
		return "", false
	}
	return ResolveTarget(r.Source, r.Target), true
}

// TypeIs reports whether the relationship type ends with the given short name,
// so strict and transitional namespaces both match.
func (r Relationship) TypeIs(full string) bool {
	return r.Type == full || path.Base(r.Type) == path.Base(full)
}

type xlsxRelationships struct {
	XMLName       xml.Name       `xml:"Relationships"`
	Relationships []Relationship `xml:"Relationship"`
}

type xlsxRelationshipsOut struct {
	XMLName       xml.Name       `xml:"http://schemas.openxmlformats.org/package/2006/relationships Relationships"`
	Relationships []Relationship `xml:"Relationship"`
}

func parseRelationships(source string, data []byte) ([]Relationship, error) {
	var rels xlsxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, err
	}
	for i := range rels.Relationships {
		rels.Relationships[i].Source = source
	}
	return rels.Relationships, nil
}

func marshalRelationships(rels []Relationship) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	if err := xml.NewEncoder(&buf).Encode(xlsxRelationshipsOut{Relationships: rels}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RelsPath returns the relationships part for a source part ("" for the package).
func RelsPath(source string) string {
	if source == "" {
		return "_rels/.rels"
	}
	dir, file := path.Split(source)
	return dir + "_rels/" + file + ".rels"
}

// IsRelsPath reports whether name is a relationships part.
func IsRelsPath(name string) bool {
	return strings.HasSuffix(name, ".rels") && (strings.HasPrefix(name, "_rels/") || strings.Contains(name, "/_rels/"))
}

// SourceOf is the inverse of RelsPath.
func SourceOf(relsPath string) string {
	if relsPath == "_rels/.rels" {
		return ""
	}
	dir, file := path.Split(relsPath)
	dir = strings.TrimSuffix(strings.TrimSuffix(dir, "/"), "_rels")
	return dir + strings.TrimSuffix(file, ".rels")
}

// ResolveTarget resolves a target against the directory of its source part.
func ResolveTarget(source, target string) string {
	if t, err := url.PathUnescape(target); err == nil {
		target = t
	}
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return strings.TrimPrefix(path.Join(path.Dir(source), target), "/")
}

// relativeTarget rewrites newPath in the style of oldTarget: absolute stays
// absolute, relative is expressed from the source's directory.
func relativeTarget(source, oldTarget, newPath string) string {
	if strings.HasPrefix(oldTarget, "/") {
		return "/" + newPath
	}
	from := strings.Split(path.Dir(source), "/")
	if path.Dir(source) == "." {
		from = nil
	}
	to := strings.Split(newPath, "/")
	i := 0
	for i < len(from) && i < len(to)-1 && from[i] == to[i] {
		i++
	}
	var parts []string
	for range from[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[i:]...)
	return strings.Join(parts, "/")
}
