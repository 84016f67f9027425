package archive

import (
	"bytes"
	"strings"

	"github.com/richardlehane/mscfb"
)

var cfbSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// compoundFile describes a CFB (OLE2) container found in place of a zip package.
type compoundFile struct {
	encrypted bool
}

// detectCompoundFile returns non-nil when data is a compound file binary
// document: a legacy .xls workbook or a password-protected OOXML package.
func detectCompoundFile(data []byte) *compoundFile {
	if !bytes.HasPrefix(data, cfbSignature) {
		return nil
	}
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return &compoundFile{}
	}
	cf := &compoundFile{}
	for {
		entry, err := doc.Next()
		if err != nil {
			break
		}
		switch strings.ToLower(entry.Name) {
		case "encryptioninfo", "encryptedpackage":
			cf.encrypted = true
		}
	}
	return cf
}

func (cf *compoundFile) describe() string {
	if cf.encrypted {
		return "password-protected workbook"
	}
	return "compound file document (legacy binary format)"
}
