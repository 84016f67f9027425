// Package imaging recompresses and converts the raster images embedded in a
// spreadsheet package.
package imaging

import (
	"fmt"
	"path"
	"strings"
)

// Format is an image family.
type Format string

const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatBMP     Format = "bmp"
	FormatTIFF    Format = "tiff"
	FormatGIF     Format = "gif"
	FormatEMF     Format = "emf"
	FormatWMF     Format = "wmf"
)

var contentTypes = map[Format]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
	FormatGIF:  "image/gif",
	FormatEMF:  "image/x-emf",
	FormatWMF:  "image/x-wmf",
}

var extensions = map[string]Format{
	"jpeg": FormatJPEG,
	"jpg":  FormatJPEG,
	"jpe":  FormatJPEG,
	"png":  FormatPNG,
	"bmp":  FormatBMP,
	"dib":  FormatBMP,
	"tif":  FormatTIFF,
	"tiff": FormatTIFF,
	"gif":  FormatGIF,
	"emf":  FormatEMF,
	"wmf":  FormatWMF,
}

// ParseFormat accepts a format or file extension name such as "jpg" or "PNG".
func ParseFormat(s string) (Format, error) {
	if f, ok := extensions[strings.ToLower(strings.TrimPrefix(s, "."))]; ok {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("unknown image format %q", s)
}

// FormatOf identifies a part's format from its content type, falling back
// to the extension of its name.
func FormatOf(contentType, name string) Format {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch ct {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return FormatJPEG
	case "image/png", "image/x-png":
		return FormatPNG
	case "image/bmp", "image/x-bmp", "image/x-ms-bmp":
		return FormatBMP
	case "image/tiff", "image/x-tiff":
		return FormatTIFF
	case "image/gif":
		return FormatGIF
	case "image/x-emf", "image/emf":
		return FormatEMF
	case "image/x-wmf", "image/wmf":
		return FormatWMF
	}
	if f, ok := extensions[strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))]; ok {
		return f
	}
	return FormatUnknown
}

// ContentType returns the MIME type written for the format.
func (f Format) ContentType() string {
	return contentTypes[f]
}

// Extension returns the file extension, with the dot, used for new parts.
func (f Format) Extension() string {
	if f == FormatUnknown {
		return ""
	}
	return "." + string(f)
}

// Supported reports whether images of this format can be re-encoded.
func (f Format) Supported() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatBMP, FormatTIFF:
		return true
	}
	return false
}

// Lossless reports whether re-encoding keeps every pixel.
func (f Format) Lossless() bool {
	return f.Supported() && f != FormatJPEG
}
