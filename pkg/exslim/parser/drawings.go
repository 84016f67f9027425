package parser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

// PictureRef is one picture anchored in a drawing part.
type PictureRef struct {
	// Drawing is the drawing part holding the picture.
	Drawing string
	// Name is the picture's cNvPr name.
	Name string
	// RelID is the r:embed id of the blip.
	RelID string
	// Target is the resolved image part, empty if the relationship is missing.
	Target string
	// Width and Height are the display size in pixels.
	Width  int
	Height int
}

// DrawingParts lists drawing parts in archive order.
func DrawingParts(a *archive.Archive) []string {
	return a.Filter(func(p *archive.Part) bool {
		return strings.HasSuffix(p.ContentType, "drawing+xml")
	})
}

// ReadPictures returns every picture reference of every drawing part.
func ReadPictures(a *archive.Archive) ([]PictureRef, error) {
	var refs []PictureRef
	for _, drawing := range DrawingParts(a) {
		part, _ := a.Part(drawing)
		pics, err := parseDrawingPictures(part.Data)
		if err != nil {
			return nil, archive.NewError(archive.KindXMLParse, drawing, err)
		}
		for _, pic := range pics {
			pic.Drawing = drawing
			if target, ok := a.Target(drawing, pic.RelID); ok {
				pic.Target = target
			}
			refs = append(refs, pic)
		}
	}
	return refs, nil
}

// RelatedParts returns the resolved targets of source's relationships of relType.
func RelatedParts(a *archive.Archive, source, relType string) ([]string, error) {
	rels, err := a.Relationships(source)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rels {
		if !r.TypeIs(relType) {
			continue
		}
		if target, ok := r.Resolve(); ok && a.Has(target) {
			out = append(out, target)
		}
	}
	return out, nil
}

func parseDrawingPictures(data []byte) ([]PictureRef, error) {
	var pics []PictureRef
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if se, ok := token.(xml.StartElement); ok && se.Name.Local == "pic" {
			pic, err := parsePicture(decoder)
			if err != nil {
				return nil, err
			}
			if pic.RelID != "" {
				pics = append(pics, pic)
			}
		}
	}

	return pics, nil
}

// parsePicture reads an xdr:pic element up to its end tag.
func parsePicture(decoder *xml.Decoder) (PictureRef, error) {
	var pic PictureRef
	depth := 1

	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return pic, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "cNvPr":
				for _, attr := range t.Attr {
					if attr.Name.Local == "name" {
						pic.Name = attr.Value
					}
				}
			case "blip":
				for _, attr := range t.Attr {
					if attr.Name.Local == "embed" || (attr.Name.Local == "link" && pic.RelID == "") {
						pic.RelID = attr.Value
					}
				}
			case "xfrm":
				w, h, err := parseXfrmExtent(decoder)
				if err != nil {
					return pic, err
				}
				pic.Width, pic.Height = w, h
				depth--
			}
		case xml.EndElement:
			depth--
		}
	}

	return pic, nil
}

// parseXfrmExtent reads the a:ext size of an a:xfrm element.
func parseXfrmExtent(decoder *xml.Decoder) (width, height int, err error) {
	depth := 1

	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return width, height, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "ext" {
				for _, attr := range t.Attr {
					v, _ := strconv.ParseInt(attr.Value, 10, 64)
					switch attr.Name.Local {
					case "cx":
						width = EMUToPixels(v)
					case "cy":
						height = EMUToPixels(v)
					}
				}
			}
		case xml.EndElement:
			depth--
		}
	}

	return width, height, nil
}
