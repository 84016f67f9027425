// Package names finds and removes defined names that no formula, chart,
// pivot cache or other retained name refers to.
package names

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/ukaji3/exslim-go/pkg/exslim/parser"
)

// reservedPrefixes mark names Excel manages itself: print areas, print
// titles, filter databases and future-function placeholders.
var reservedPrefixes = []string{"_xlnm.", "_xlfn.", "_xlpm.", "_xlws."}

// DefinedName is one <definedName> entry of the workbook part.
type DefinedName struct {
	Name string
	// LocalSheetID is the scope sheet index, or parser.NoSheet for workbook scope.
	LocalSheetID int
	Formula      string
	Hidden       bool

	start, end int64
}

// Reserved reports whether Excel owns the name.
func (n DefinedName) Reserved() bool {
	lower := strings.ToLower(n.Name)
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Global reports whether the name has workbook scope.
func (n DefinedName) Global() bool {
	return n.LocalSheetID == parser.NoSheet
}

// span is a byte range [start, end) of the workbook XML.
type span struct {
	start, end int64
}

// definedNames is the parsed <definedNames> block.
type definedNames struct {
	entries []DefinedName
	block   span
	found   bool
}

// parseDefinedNames reads the defined names of a workbook part together with
// the byte spans of each entry and of the enclosing block.
func parseDefinedNames(data []byte) (*definedNames, error) {
	result := &definedNames{}
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

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "definedNames":
				result.found = true
				result.block.start = offset
			case "definedName":
				entry, err := parseDefinedName(decoder, t)
				if err != nil {
					return nil, err
				}
				entry.start = offset
				entry.end = decoder.InputOffset()
				result.entries = append(result.entries, entry)
			}
		case xml.EndElement:
			if t.Name.Local == "definedNames" {
				result.block.end = decoder.InputOffset()
			}
		}
	}

	return result, nil
}

func parseDefinedName(decoder *xml.Decoder, se xml.StartElement) (DefinedName, error) {
	entry := DefinedName{LocalSheetID: parser.NoSheet}
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "name":
			entry.Name = attr.Value
		case "localSheetId":
			if id, err := strconv.Atoi(attr.Value); err == nil {
				entry.LocalSheetID = id
			}
		case "hidden":
			entry.Hidden = attr.Value == "1" || attr.Value == "true"
		}
	}

	var sb strings.Builder
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return entry, err
		}
		switch t := token.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	entry.Formula = strings.TrimSpace(sb.String())
	return entry, nil
}

// removeEntries splices the given entries out of data along with the
// whitespace in front of each one. When every entry goes, the whole block
// goes with them.
func removeEntries(data []byte, dn *definedNames, drop map[int]bool) []byte {
	var cuts []span
	if len(drop) == len(dn.entries) && dn.found {
		cuts = append(cuts, dn.block)
	} else {
		for i, e := range dn.entries {
			if drop[i] {
				cuts = append(cuts, span{e.start, e.end})
			}
		}
	}

	var out bytes.Buffer
	out.Grow(len(data))
	prev := int64(0)
	for _, c := range cuts {
		start := c.start
		for start > prev && isSpace(data[start-1]) {
			start--
		}
		out.Write(data[prev:start])
		prev = c.end
	}
	out.Write(data[prev:])
	return out.Bytes()
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
