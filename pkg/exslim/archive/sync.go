package archive

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var relationshipNamespaces = []string{
	"http://schemas.openxmlformats.org/officeDocument/2006/relationships",
	"http://purl.oclc.org/ooxml/officeDocument/relationships",
}

// strippable lists elements whose relationship attribute is optional and may
// be dropped together with the target part.
var strippable = map[string]bool{
	"pageSetup": true,
}

// Synchronizer keeps relationships and the content type registry consistent
// while parts are renamed or removed.
type Synchronizer struct {
	a *Archive
}

// NewSynchronizer creates a Synchronizer over a.
func NewSynchronizer(a *Archive) *Synchronizer {
	return &Synchronizer{a: a}
}

// graph parses every relationships file, keyed by source part.
func (s *Synchronizer) graph() (map[string][]Relationship, error) {
	g := make(map[string][]Relationship)
	for _, name := range s.a.st.Order {
		if !IsRelsPath(name) {
			continue
		}
		source := SourceOf(name)
		rels, err := parseRelationships(source, s.a.st.Parts[name].Data)
		if err != nil {
			return nil, NewError(KindReferenceIntegrity, name, err)
		}
		g[source] = rels
	}
	return g, nil
}

func sortedSources(g map[string][]Relationship) []string {
	sources := lo.Keys(g)
	sort.Strings(sources)
	return sources
}

// ApplyRename moves oldPath to newPath and retargets every relationship that
// pointed at it. newContentType may be empty to keep the current type.
func (s *Synchronizer) ApplyRename(oldPath, newPath, newContentType string) error {
	oldPath = strings.TrimPrefix(oldPath, "/")
	newPath = strings.TrimPrefix(newPath, "/")
	if oldPath == newPath {
		return Errorf(KindReferenceIntegrity, oldPath, "rename to the same path")
	}
	if !s.a.Has(oldPath) {
		return NewError(KindReferenceIntegrity, oldPath, ErrPartNotFound)
	}
	if s.a.Has(newPath) {
		return Errorf(KindReferenceIntegrity, newPath, "part already exists")
	}
	if IsRelsPath(oldPath) {
		return Errorf(KindReferenceIntegrity, oldPath, "relationships parts cannot be renamed")
	}

	g, err := s.graph()
	if err != nil {
		return err
	}
	if newContentType == "" {
		newContentType = s.a.st.Types.Resolve(oldPath)
	}

	updated := make(map[string][]Relationship)
	for _, source := range sortedSources(g) {
		rels := g[source]
		changed := false
		for i, r := range rels {
			target, ok := r.Resolve()
			if !ok || target != oldPath {
				continue
			}
			rels[i].Target = relativeTarget(source, r.Target, newPath)
			changed = true
		}
		if changed {
			updated[source] = rels
		}
	}

	// The renamed part's own relationships move with it and are rebased.
	own, hasOwn := g[oldPath]
	if hasOwn {
		if rels, ok := updated[oldPath]; ok {
			own = rels
			delete(updated, oldPath)
		}
		for i, r := range own {
			r.Source = oldPath
			target, ok := r.Resolve()
			if !ok {
				continue
			}
			own[i].Source = newPath
			own[i].Target = relativeTarget(newPath, r.Target, target)
		}
	}

	if err := s.a.rename(oldPath, newPath); err != nil {
		return err
	}
	for source, rels := range updated {
		if err := s.a.SetRelationships(source, rels); err != nil {
			return err
		}
	}
	if hasOwn {
		if err := s.a.RemovePart(RelsPath(oldPath)); err != nil {
			return err
		}
		if err := s.a.SetRelationships(newPath, own); err != nil {
			return err
		}
	}
	s.rewriteVML(oldPath, newPath)

	s.a.st.Types.register(newPath, newContentType)
	s.a.pruneDefault(extension(oldPath))
	s.a.refresh(s.a.st.Parts[newPath])
	if s.a.st.Parts[newPath].ContentType != newContentType {
		return Errorf(KindReferenceIntegrity, newPath, "content type %q not registered", newContentType)
	}
	return s.checkNoReferences(oldPath)
}

// rewriteVML replaces absolute path mentions of a renamed part in legacy VML drawings.
func (s *Synchronizer) rewriteVML(oldPath, newPath string) {
	from := []byte("/" + oldPath)
	to := []byte("/" + newPath)
	for _, name := range s.a.st.Order {
		if extension(name) != "vml" {
			continue
		}
		p := s.a.st.Parts[name]
		if bytes.Contains(p.Data, from) {
			p.Data = bytes.ReplaceAll(p.Data, from, to)
		}
	}
}

// ApplyRemoval deletes a part with every relationship pointing at it. Parts
// that only the removed part referenced are removed too.
func (s *Synchronizer) ApplyRemoval(name string) error {
	name = strings.TrimPrefix(name, "/")
	if !s.a.Has(name) {
		return NewError(KindReferenceIntegrity, name, ErrPartNotFound)
	}
	if name == s.a.st.Workbook {
		return Errorf(KindReferenceIntegrity, name, "cannot remove the workbook part")
	}

	g, err := s.graph()
	if err != nil {
		return err
	}

	type edit struct {
		source string
		rels   []Relationship
		body   []byte
	}
	var edits []edit
	for _, source := range sortedSources(g) {
		if source == name {
			continue
		}
		var dropped []Relationship
		kept := lo.Filter(g[source], func(r Relationship, _ int) bool {
			target, ok := r.Resolve()
			if ok && target == name {
				dropped = append(dropped, r)
				return false
			}
			return true
		})
		if len(dropped) == 0 {
			continue
		}
		e := edit{source: source, rels: kept}
		if p, ok := s.a.st.Parts[source]; ok && p.XML {
			body, err := stripBodyReferences(p.Data, dropped)
			if err != nil {
				return NewError(KindReferenceIntegrity, source, err)
			}
			e.body = body
		}
		edits = append(edits, e)
	}

	for _, e := range edits {
		if e.body != nil {
			s.a.st.Parts[e.source].Data = e.body
		}
		if err := s.a.SetRelationships(e.source, e.rels); err != nil {
			return err
		}
	}

	var cascade []string
	for _, r := range g[name] {
		if target, ok := r.Resolve(); ok && target != name {
			cascade = append(cascade, target)
		}
	}
	if s.a.Has(RelsPath(name)) {
		if err := s.a.RemovePart(RelsPath(name)); err != nil {
			return err
		}
	}
	if err := s.a.RemovePart(name); err != nil {
		return err
	}
	if err := s.checkNoReferences(name); err != nil {
		return err
	}

	for _, target := range lo.Uniq(cascade) {
		if !s.a.Has(target) {
			continue
		}
		referenced, err := s.referenced(target)
		if err != nil {
			return err
		}
		if !referenced {
			if err := s.ApplyRemoval(target); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Synchronizer) referenced(name string) (bool, error) {
	g, err := s.graph()
	if err != nil {
		return false, err
	}
	for _, rels := range g {
		for _, r := range rels {
			if target, ok := r.Resolve(); ok && target == name {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Synchronizer) checkNoReferences(name string) error {
	referenced, err := s.referenced(name)
	if err != nil {
		return err
	}
	if referenced {
		return Errorf(KindReferenceIntegrity, name, "relationship still targets removed path")
	}
	return nil
}

// Dangling returns internal relationships whose target part does not exist.
func (s *Synchronizer) Dangling() ([]Relationship, error) {
	g, err := s.graph()
	if err != nil {
		return nil, err
	}
	var out []Relationship
	for _, source := range sortedSources(g) {
		for _, r := range g[source] {
			if target, ok := r.Resolve(); ok && !s.a.Has(target) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type bodyRef struct {
	element string
	start   int64
	id      string
}

// findBodyReferences lists elements carrying a relationship-namespace attribute
// whose value is one of ids.
func findBodyReferences(data []byte, ids map[string]bool) ([]bodyRef, error) {
	var refs []bodyRef
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		offset := decoder.InputOffset()
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
		for _, attr := range se.Attr {
			if lo.Contains(relationshipNamespaces, attr.Name.Space) && ids[attr.Value] {
				refs = append(refs, bodyRef{element: se.Name.Local, start: offset, id: attr.Value})
			}
		}
	}
	return refs, nil
}

// stripBodyReferences removes optional relationship attributes for dropped
// relationships. A mandatory reference fails the removal.
func stripBodyReferences(data []byte, dropped []Relationship) ([]byte, error) {
	ids := make(map[string]bool, len(dropped))
	for _, r := range dropped {
		ids[r.ID] = true
	}
	refs, err := findBodyReferences(data, ids)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	out := append([]byte(nil), data...)
	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		if !strippable[ref.element] {
			return nil, Errorf(KindReferenceIntegrity, "", "element <%s> requires relationship %s", ref.element, ref.id)
		}
		end := bytes.IndexByte(out[ref.start:], '>')
		if end < 0 {
			return nil, Errorf(KindReferenceIntegrity, "", "unterminated <%s>", ref.element)
		}
		tagEnd := ref.start + int64(end) + 1
		attr := regexp.MustCompile(`\s+[A-Za-z_][\w.-]*:id\s*=\s*(?:"` + regexp.QuoteMeta(ref.id) + `"|'` + regexp.QuoteMeta(ref.id) + `')`)
		tag := attr.ReplaceAll(out[ref.start:tagEnd], nil)
		out = append(out[:ref.start:ref.start], append(tag, out[tagEnd:]...)...)
	}
	return out, nil
}
