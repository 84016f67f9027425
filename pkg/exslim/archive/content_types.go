package archive

import (
	"bytes"
	"encoding/xml"
	"path"
	"strings"
)

// ContentTypesPart is the fixed name of the content type declaration part.
const ContentTypesPart = "[Content_Types].xml"

const nsContentTypes = "http://schemas.openxmlformats.org/package/2006/content-types"

// Content types the pipeline itself writes or inspects.
const (
	TypeRelationships = "application/vnd.openxmlformats-package.relationships+xml"
	TypeXML           = "application/xml"
)

// Default maps a file extension to a MIME type.
type Default struct {
	Extension   string `xml:"Extension,attr"`
	ContentType string `xml:"ContentType,attr"`
}

// Override maps one part to a MIME type. PartName carries a leading slash.
type Override struct {
	PartName    string `xml:"PartName,attr"`
	ContentType string `xml:"ContentType,attr"`
}

// ContentTypes is the package content type registry.
type ContentTypes struct {
	Defaults  []Default
	Overrides []Override
}

// xlsxTypes decodes the Types element regardless of namespace prefix.
type xlsxTypes struct {
	XMLName   xml.Name   `xml:"Types"`
	Defaults  []Default  `xml:"Default"`
	Overrides []Override `xml:"Override"`
}

// xlsxTypesOut encodes the Types element with its package namespace.
type xlsxTypesOut struct {
	XMLName   xml.Name   `xml:"http://schemas.openxmlformats.org/package/2006/content-types Types"`
	Defaults  []Default  `xml:"Default"`
	Overrides []Override `xml:"Override"`
}

func parseContentTypes(data []byte) (*ContentTypes, error) {
	var t xlsxTypes
	if err := xml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.XMLName.Space != "" && t.XMLName.Space != nsContentTypes {
		return nil, Errorf(KindInvalidArchive, ContentTypesPart, "unexpected namespace %q", t.XMLName.Space)
	}
	return &ContentTypes{Defaults: t.Defaults, Overrides: t.Overrides}, nil
}

func (c *ContentTypes) marshal() ([]byte, error) {
	out := xlsxTypesOut{Defaults: c.Defaults, Overrides: c.Overrides}
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	if err := xml.NewEncoder(&buf).Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Resolve returns the declared type of a part: its override, else the default for its extension.
func (c *ContentTypes) Resolve(name string) string {
	if ct, ok := c.Override(name); ok {
		return ct
	}
	ct, _ := c.Default(extension(name))
	return ct
}

// Override returns the explicit override for a part.
func (c *ContentTypes) Override(name string) (string, bool) {
	pn := partName(name)
	for _, o := range c.Overrides {
		if strings.EqualFold(o.PartName, pn) {
			return o.ContentType, true
		}
	}
	return "", false
}

// SetOverride adds or replaces the override for a part.
func (c *ContentTypes) SetOverride(name, contentType string) {
	pn := partName(name)
	for i, o := range c.Overrides {
		if strings.EqualFold(o.PartName, pn) {
			c.Overrides[i].ContentType = contentType
			return
		}
	}
	c.Overrides = append(c.Overrides, Override{PartName: pn, ContentType: contentType})
}

// RemoveOverride drops the override for a part, if any.
func (c *ContentTypes) RemoveOverride(name string) bool {
	pn := partName(name)
	for i, o := range c.Overrides {
		if strings.EqualFold(o.PartName, pn) {
			c.Overrides = append(c.Overrides[:i], c.Overrides[i+1:]...)
			return true
		}
	}
	return false
}

// Default returns the type registered for an extension. Extensions compare case-insensitively.
func (c *ContentTypes) Default(ext string) (string, bool) {
	for _, d := range c.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			return d.ContentType, true
		}
	}
	return "", false
}

// SetDefault adds or replaces the default for an extension.
func (c *ContentTypes) SetDefault(ext, contentType string) {
	for i, d := range c.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			c.Defaults[i].ContentType = contentType
			return
		}
	}
	c.Defaults = append(c.Defaults, Default{Extension: ext, ContentType: contentType})
}

// RemoveDefault drops the default for an extension, if any.
func (c *ContentTypes) RemoveDefault(ext string) bool {
	for i, d := range c.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			c.Defaults = append(c.Defaults[:i], c.Defaults[i+1:]...)
			return true
		}
	}
	return false
}

// register records contentType for name using the extension default when it already matches.
func (c *ContentTypes) register(name, contentType string) {
	if contentType == "" {
		return
	}
	if def, ok := c.Default(extension(name)); ok && def == contentType {
		c.RemoveOverride(name)
		return
	}
	if _, ok := c.Default(extension(name)); !ok && extension(name) != "" && isMediaType(contentType) {
		c.SetDefault(extension(name), contentType)
		c.RemoveOverride(name)
		return
	}
	c.SetOverride(name, contentType)
}

// partName converts an archive entry name to an override PartName.
func partName(name string) string {
	return "/" + strings.TrimPrefix(name, "/")
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func isMediaType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

func isXMLType(contentType string) bool {
	return strings.HasSuffix(contentType, "+xml") || strings.HasSuffix(contentType, "/xml")
}
