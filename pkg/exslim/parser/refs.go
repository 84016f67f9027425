package parser

import (
	"strings"
	"unicode"

	"github.com/xuri/efp"
	"github.com/xuri/excelize/v2"
)

// Reference is a possible defined-name reference found in a formula.
type Reference struct {
	// Qualifier is the sheet or workbook prefix before '!', unquoted.
	Qualifier string
	// Name is the referenced identifier.
	Name string
}

// thisWorkbook is the index Excel writes for the current file, as in the
// chart series reference [0]!Name.
const thisWorkbook = "[0]"

// External reports whether the reference points into another workbook.
// Only [0] names the current one.
func (r Reference) External() bool {
	q := strings.TrimPrefix(r.Qualifier, thisWorkbook)
	return strings.HasPrefix(q, "[") || strings.Contains(q, "]")
}

// localQualifier drops the [0] prefix so what remains is a sheet name, or
// empty for workbook scope.
func localQualifier(q string) string {
	return strings.TrimPrefix(q, thisWorkbook)
}

// FormulaScan is the result of tokenizing one formula.
type FormulaScan struct {
	Refs []Reference
	// Malformed is set when the formula does not tokenize cleanly.
	Malformed bool
}

// ScanFormula tokenizes a formula with the Excel grammar and returns every
// operand or function name that may refer to a defined name. Cell, column
// and row references are dropped.
func ScanFormula(formula string) FormulaScan {
	var scan FormulaScan
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(formula), "=")) == "" {
		scan.Malformed = true
		return scan
	}

	ps := efp.ExcelParser()
	tokens := ps.Parse(formula)
	if ps.InString || ps.InPath || ps.InRange || ps.InError {
		scan.Malformed = true
	}

	depth := 0
	for _, t := range tokens {
		switch t.TType {
		case efp.TokenTypeUnknown:
			scan.Malformed = true
		case efp.TokenTypeFunction, efp.TokenTypeSubexpression:
			switch t.TSubType {
			case efp.TokenSubTypeStart:
				depth++
				if t.TType == efp.TokenTypeFunction && t.TValue != "ARRAY" && t.TValue != "ARRAYROW" {
					scan.Refs = append(scan.Refs, functionReference(t.TValue)...)
				}
			case efp.TokenSubTypeStop:
				depth--
				if depth < 0 {
					scan.Malformed = true
				}
			}
		case efp.TokenTypeOperand:
			if t.TSubType == efp.TokenSubTypeRange {
				scan.Refs = append(scan.Refs, operandReferences(t.TValue)...)
			}
		}
	}
	if depth != 0 {
		scan.Malformed = true
	}
	return scan
}

// SplitQualifier splits "Sheet1!Name" at the last '!'.
func SplitQualifier(token string) (qualifier, rest string) {
	if i := strings.LastIndex(token, "!"); i >= 0 {
		return token[:i], token[i+1:]
	}
	return "", token
}

func functionReference(value string) []Reference {
	qualifier, name := SplitQualifier(value)
	qualifier = localQualifier(qualifier)
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "_xlfn.") || strings.HasPrefix(lower, "_xlws.") || strings.HasPrefix(lower, "_xludf.") {
		return nil
	}
	if !isNameToken(name) {
		return nil
	}
	return []Reference{{Qualifier: qualifier, Name: name}}
}

func operandReferences(value string) []Reference {
	qualifier, rest := SplitQualifier(value)
	qualifier = localQualifier(qualifier)
	// Structured references: Table1[Column] names the table, [@Col] nothing.
	if i := strings.Index(rest, "["); i >= 0 {
		rest = rest[:i]
	}
	pieces := strings.Split(rest, ":")
	var refs []Reference
	for _, piece := range pieces {
		if piece == "" || IsCellReference(piece) {
			continue
		}
		if len(pieces) > 1 && (isColumnReference(piece) || isRowReference(piece)) {
			continue
		}
		if isNameToken(piece) {
			refs = append(refs, Reference{Qualifier: qualifier, Name: piece})
		}
	}
	return refs
}

// IsCellReference reports whether s is an A1-style cell address such as B7 or $C$10.
func IsCellReference(s string) bool {
	_, _, err := excelize.CellNameToCoordinates(s)
	return err == nil
}

func isColumnReference(s string) bool {
	s = strings.TrimPrefix(s, "$")
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) || r > unicode.MaxASCII }) >= 0 {
		return false
	}
	_, err := excelize.ColumnNameToNumber(s)
	return err == nil
}

func isRowReference(s string) bool {
	s = strings.TrimPrefix(s, "$")
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0
}

// isNameToken applies the leading-character rule of defined names.
func isNameToken(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return unicode.IsLetter(r) || r == '_' || r == '\\'
}
