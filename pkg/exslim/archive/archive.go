// Package archive models a spreadsheet package in memory: its parts, content
// type registry and relationship graph.
package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tiendc/go-deepcopy"
)

const defaultWorkbookPath = "xl/workbook.xml"

// Part is one entry of the package.
type Part struct {
	// Name is the archive path without a leading slash.
	Name string
	// Data is the raw part content.
	Data []byte
	// ContentType is the declared type, refreshed from the registry on access.
	ContentType string
	// XML is true for XML parts.
	XML bool
	// Modified is the entry's modification time in unix seconds.
	Modified int64
}

// state holds everything Clone must copy. Fields are exported for deepcopy.
type state struct {
	Parts    map[string]*Part
	Order    []string
	Types    *ContentTypes
	Workbook string
	Stamp    int64
}

// Archive is an in-memory spreadsheet package.
type Archive struct {
	st state
}

// Load parses a package from raw bytes.
func Load(data []byte) (*Archive, error) {
	if cf := detectCompoundFile(data); cf != nil {
		return nil, Errorf(KindUnsupportedFormat, "", "%s", cf.describe())
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, NewError(KindInvalidArchive, "", err)
	}

	a := &Archive{st: state{Parts: make(map[string]*Part)}}
	var typesData []byte
	seen := make(map[string]bool)

	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := strings.TrimPrefix(f.Name, "/")
		key := strings.ToLower(name)
		if seen[key] {
			return nil, Errorf(KindInvalidArchive, name, "duplicate entry")
		}
		seen[key] = true

		content, err := readZipEntry(f)
		if err != nil {
			return nil, NewError(KindInvalidArchive, name, err)
		}
		if name == ContentTypesPart {
			typesData = content
			continue
		}
		mod := f.Modified.Unix()
		if mod > a.st.Stamp {
			a.st.Stamp = mod
		}
		a.st.Parts[name] = &Part{Name: name, Data: content, Modified: mod}
		a.st.Order = append(a.st.Order, name)
	}

	if typesData == nil {
		return nil, Errorf(KindInvalidArchive, ContentTypesPart, "missing content type declarations")
	}
	types, err := parseContentTypes(typesData)
	if err != nil {
		return nil, NewError(KindInvalidArchive, ContentTypesPart, err)
	}
	a.st.Types = types
	for _, p := range a.st.Parts {
		a.refresh(p)
	}

	wb, err := a.locateWorkbook()
	if err != nil {
		return nil, err
	}
	a.st.Workbook = wb

	ct := a.st.Types.Resolve(wb)
	if !isSpreadsheetType(ct) {
		return nil, Errorf(KindUnsupportedFormat, wb, "main part has content type %q", ct)
	}
	return a, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Archive) locateWorkbook() (string, error) {
	rels, err := a.Relationships("")
	if err != nil {
		return "", NewError(KindInvalidArchive, RelsPath(""), err)
	}
	for _, r := range rels {
		if !r.TypeIs(RelOfficeDocument) {
			continue
		}
		if target, ok := r.Resolve(); ok {
			if _, exists := a.st.Parts[target]; exists {
				return target, nil
			}
			return "", Errorf(KindInvalidArchive, target, "main document part is missing")
		}
	}
	if _, ok := a.st.Parts[defaultWorkbookPath]; ok {
		return defaultWorkbookPath, nil
	}
	return "", Errorf(KindInvalidArchive, defaultWorkbookPath, "no workbook part")
}

func isSpreadsheetType(ct string) bool {
	return strings.Contains(ct, "spreadsheetml") || strings.HasPrefix(ct, "application/vnd.ms-excel.")
}

func (a *Archive) refresh(p *Part) {
	p.ContentType = a.st.Types.Resolve(p.Name)
	p.XML = isXMLType(p.ContentType) || IsRelsPath(p.Name)
}

// WorkbookPath returns the main workbook part.
func (a *Archive) WorkbookPath() string {
	return a.st.Workbook
}

// ContentTypes returns the live content type registry.
func (a *Archive) ContentTypes() *ContentTypes {
	return a.st.Types
}

// Names returns part names in archive order.
func (a *Archive) Names() []string {
	return append([]string(nil), a.st.Order...)
}

// Has reports whether a part exists.
func (a *Archive) Has(name string) bool {
	_, ok := a.st.Parts[strings.TrimPrefix(name, "/")]
	return ok
}

// Part returns a part by name.
func (a *Archive) Part(name string) (*Part, bool) {
	p, ok := a.st.Parts[strings.TrimPrefix(name, "/")]
	if !ok {
		return nil, false
	}
	a.refresh(p)
	return p, true
}

// Filter returns, in archive order, the names of parts matching fn.
func (a *Archive) Filter(fn func(*Part) bool) []string {
	return lo.Filter(a.st.Order, func(name string, _ int) bool {
		p, _ := a.Part(name)
		return fn(p)
	})
}

// PutPart adds or replaces a part. A non-empty contentType is registered
// through the extension default when possible, otherwise as an override.
func (a *Archive) PutPart(name string, data []byte, contentType string) error {
	name = strings.TrimPrefix(name, "/")
	if name == "" || name == ContentTypesPart {
		return Errorf(KindReferenceIntegrity, name, "invalid part name")
	}
	if contentType == "" && a.st.Types.Resolve(name) == "" {
		return Errorf(KindReferenceIntegrity, name, "no content type declared")
	}
	p, ok := a.st.Parts[name]
	if !ok {
		p = &Part{Name: name, Modified: a.stamp()}
		a.st.Parts[name] = p
		a.st.Order = append(a.st.Order, name)
	}
	p.Data = data
	a.st.Types.register(name, contentType)
	a.refresh(p)
	return nil
}

// RemovePart deletes a part and its override. Extension defaults no longer
// used by any part are dropped, except the package-level ones.
func (a *Archive) RemovePart(name string) error {
	name = strings.TrimPrefix(name, "/")
	if _, ok := a.st.Parts[name]; !ok {
		return NewError(KindReferenceIntegrity, name, ErrPartNotFound)
	}
	delete(a.st.Parts, name)
	a.st.Order = lo.Without(a.st.Order, name)
	a.st.Types.RemoveOverride(name)
	a.pruneDefault(extension(name))
	return nil
}

// rename moves a part to a new name, keeping its slot in archive order.
func (a *Archive) rename(oldName, newName string) error {
	p, ok := a.st.Parts[oldName]
	if !ok {
		return NewError(KindReferenceIntegrity, oldName, ErrPartNotFound)
	}
	if _, exists := a.st.Parts[newName]; exists {
		return Errorf(KindReferenceIntegrity, newName, "part already exists")
	}
	delete(a.st.Parts, oldName)
	p.Name = newName
	a.st.Parts[newName] = p
	for i, n := range a.st.Order {
		if n == oldName {
			a.st.Order[i] = newName
		}
	}
	a.st.Types.RemoveOverride(oldName)
	return nil
}

func (a *Archive) pruneDefault(ext string) {
	if ext == "" || ext == "rels" || ext == "xml" {
		return
	}
	for _, n := range a.st.Order {
		if extension(n) == ext {
			if _, overridden := a.st.Types.Override(n); !overridden {
				return
			}
		}
	}
	a.st.Types.RemoveDefault(ext)
}

func (a *Archive) stamp() int64 {
	if a.st.Stamp != 0 {
		return a.st.Stamp
	}
	return time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
}

// Relationships returns the relationships of source ("" for the package) in document order.
func (a *Archive) Relationships(source string) ([]Relationship, error) {
	relsPath := RelsPath(source)
	p, ok := a.st.Parts[relsPath]
	if !ok {
		return nil, nil
	}
	rels, err := parseRelationships(source, p.Data)
	if err != nil {
		return nil, NewError(KindXMLParse, relsPath, err)
	}
	return rels, nil
}

// SetRelationships rewrites the relationships file of source. An empty set removes it.
func (a *Archive) SetRelationships(source string, rels []Relationship) error {
	relsPath := RelsPath(source)
	if len(rels) == 0 {
		if a.Has(relsPath) {
			return a.RemovePart(relsPath)
		}
		return nil
	}
	data, err := marshalRelationships(rels)
	if err != nil {
		return NewError(KindReferenceIntegrity, relsPath, err)
	}
	ct := ""
	if def, ok := a.st.Types.Default("rels"); !ok || def != TypeRelationships {
		ct = TypeRelationships
	}
	return a.PutPart(relsPath, data, ct)
}

// Target returns the resolved target of relationship id on source.
func (a *Archive) Target(source, id string) (string, bool) {
	rels, err := a.Relationships(source)
	if err != nil {
		return "", false
	}
	r, ok := lo.Find(rels, func(r Relationship) bool { return r.ID == id })
	if !ok {
		return "", false
	}
	return r.Resolve()
}

// Serialize writes the package: content types first, then parts in archive order.
func (a *Archive) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	types, err := a.st.Types.marshal()
	if err != nil {
		return nil, NewError(KindIO, ContentTypesPart, err)
	}
	if err := writeEntry(zw, ContentTypesPart, types, a.stamp()); err != nil {
		return nil, err
	}
	for _, name := range a.st.Order {
		p := a.st.Parts[name]
		if err := writeEntry(zw, name, p.Data, p.Modified); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, NewError(KindIO, "", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte, modified int64) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Unix(modified, 0).UTC(),
	})
	if err != nil {
		return NewError(KindIO, name, err)
	}
	if _, err := w.Write(data); err != nil {
		return NewError(KindIO, name, err)
	}
	return nil
}

// Clone returns an independent deep copy.
func (a *Archive) Clone() (*Archive, error) {
	var st state
	if err := deepcopy.Copy(&st, &a.st); err != nil {
		return nil, fmt.Errorf("clone archive: %w", err)
	}
	if st.Parts == nil {
		return nil, errors.New("clone archive: empty copy")
	}
	return &Archive{st: st}, nil
}

// Size returns the total uncompressed size of all parts.
func (a *Archive) Size() int64 {
	return lo.SumBy(lo.Values(a.st.Parts), func(p *Part) int64 { return int64(len(p.Data)) })
}
