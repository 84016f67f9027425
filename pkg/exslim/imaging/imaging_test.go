package imaging

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukaji3/exslim-go/internal/xlsxtest"
	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
)

func gradient(w, h int, alpha bool) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha && x < w/2 {
				a = 128
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: a})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

// withOrientation inserts an EXIF APP1 segment carrying orientation after SOI.
func withOrientation(data []byte, orientation uint16) []byte {
	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(42))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))
	binary.Write(&tiff, binary.BigEndian, uint16(tagOrientation))
	binary.Write(&tiff, binary.BigEndian, uint16(3))
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, orientation)
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	out := append([]byte{}, data[:2]...)
	out = append(out, seg...)
	out = append(out, payload...)
	return append(out, data[2:]...)
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{4000, 3000, 1400, 1400, 1050},
		{3000, 4000, 1400, 1050, 1400},
		{800, 600, 1400, 800, 600},
		{1400, 1400, 1400, 1400, 1400},
		{5000, 1, 1000, 1000, 1},
		{100, 50, 0, 100, 50},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w, "%dx%d max %d", tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantH, h, "%dx%d max %d", tt.w, tt.h, tt.max)
	}
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatJPEG, FormatOf("image/jpeg", "xl/media/a.bin"))
	assert.Equal(t, FormatPNG, FormatOf("", "xl/media/image1.PNG"))
	assert.Equal(t, FormatEMF, FormatOf("image/x-emf", "xl/media/image1.emf"))
	assert.Equal(t, FormatUnknown, FormatOf("application/octet-stream", "xl/media/blob"))

	f, err := ParseFormat(".JPG")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)
	assert.Equal(t, ".jpeg", f.Extension())
	assert.Equal(t, "image/jpeg", f.ContentType())
	_, err = ParseFormat("webp")
	assert.Error(t, err)

	assert.True(t, FormatTIFF.Lossless())
	assert.False(t, FormatJPEG.Lossless())
	assert.False(t, FormatGIF.Supported())
}

func TestOptionsNormalize(t *testing.T) {
	o := Options{}.Normalize()
	assert.Equal(t, DefaultMaxEdge, o.MaxEdge)
	assert.Equal(t, DefaultQuality, o.Quality)
	assert.GreaterOrEqual(t, o.Workers, 1)
	assert.LessOrEqual(t, o.Workers, MaxWorkers)

	o = Options{MaxEdge: 50, Quality: 500, Workers: 64}.Normalize()
	assert.Equal(t, MinMaxEdge, o.MaxEdge)
	assert.Equal(t, MaxQuality, o.Quality)
	assert.Equal(t, MaxWorkers, o.Workers)
}

func TestJPEGOrientation(t *testing.T) {
	plain := encodeJPEG(t, gradient(16, 16, false), 90)
	assert.Equal(t, 1, jpegOrientation(plain))
	assert.Equal(t, 6, jpegOrientation(withOrientation(plain, 6)))
	assert.Equal(t, 1, jpegOrientation(withOrientation(plain, 1)))
	assert.Equal(t, 1, jpegOrientation([]byte("not a jpeg")))

	_, err := jpeg.Decode(bytes.NewReader(withOrientation(plain, 6)))
	require.NoError(t, err, "fixture must stay decodable")
}

func TestOrient(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(10*x + 1), G: uint8(10*y + 1), A: 255})
		}
	}
	topLeft, topRight := src.RGBAAt(0, 0), src.RGBAAt(2, 0)

	tests := []struct {
		orientation int
		size        image.Point
		topLeft     image.Point
		topRight    image.Point
	}{
		{2, image.Pt(3, 2), image.Pt(2, 0), image.Pt(0, 0)},
		{3, image.Pt(3, 2), image.Pt(2, 1), image.Pt(0, 1)},
		{4, image.Pt(3, 2), image.Pt(0, 1), image.Pt(2, 1)},
		{5, image.Pt(2, 3), image.Pt(0, 0), image.Pt(0, 2)},
		{6, image.Pt(2, 3), image.Pt(1, 0), image.Pt(1, 2)},
		{7, image.Pt(2, 3), image.Pt(1, 2), image.Pt(1, 0)},
		{8, image.Pt(2, 3), image.Pt(0, 2), image.Pt(0, 0)},
	}
	for _, tt := range tests {
		got := Orient(src, tt.orientation)
		assert.Equal(t, tt.size, got.Bounds().Size(), "orientation %d", tt.orientation)
		assert.Equal(t, color.Color(topLeft), got.At(tt.topLeft.X, tt.topLeft.Y), "orientation %d", tt.orientation)
		assert.Equal(t, color.Color(topRight), got.At(tt.topRight.X, tt.topRight.Y), "orientation %d", tt.orientation)
	}

	assert.Same(t, src, Orient(src, 1))
	assert.Same(t, src, Orient(src, 9))
}

func TestSlim_RotatesOrientedJPEG(t *testing.T) {
	// Red on the left, blue on the right, stored sideways.
	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{R: 255, G: uint8(y * 4), A: 255}
			if x >= 32 {
				c = color.RGBA{G: uint8(y * 4), B: 255, A: 255}
			}
			src.SetRGBA(x, y, c)
		}
	}
	data := withOrientation(encodeJPEG(t, src, 100), 6)

	r := NewSlimmer(DefaultOptions(), nil).Process("xl/media/image1.jpeg", "image/jpeg", data)
	require.True(t, r.Changed(), "skip=%s err=%v", r.Skip, r.Err)
	assert.True(t, r.Oriented)
	assert.Equal(t, 32, r.Width)
	assert.Equal(t, 64, r.Height)
	assert.Equal(t, 1, jpegOrientation(r.Data))

	out, err := jpeg.Decode(bytes.NewReader(r.Data))
	require.NoError(t, err)
	// Turned clockwise: the left half is now on top.
	top := color.RGBAModel.Convert(out.At(16, 8)).(color.RGBA)
	bottom := color.RGBAModel.Convert(out.At(16, 56)).(color.RGBA)
	assert.Greater(t, top.R, top.B)
	assert.Greater(t, bottom.B, bottom.R)
}

func TestSlim_DownscalesLargeLosslessImage(t *testing.T) {
	data := encodePNG(t, gradient(4000, 3000, false))
	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "")
	b.AddPicture(sheet, "xl/media/image1.png", "image/png", data, 4000*9525, 3000*9525)
	a, err := archive.Load(b.Bytes())
	require.NoError(t, err)

	results, err := NewSlimmer(DefaultOptions(), nil).Slim(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	require.True(t, r.Changed(), "skip=%s err=%v", r.Skip, r.Err)
	assert.True(t, r.Resized)
	assert.Equal(t, 1400, r.Width)
	assert.Equal(t, 1050, r.Height)
	assert.Less(t, r.After, r.Before)

	part, ok := a.Part("xl/media/image1.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", part.ContentType)
	cfg, err := png.DecodeConfig(bytes.NewReader(part.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, max(cfg.Width, cfg.Height), DefaultMaxEdge)
}

func TestSlim_NeverGrows(t *testing.T) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	require.NoError(t, enc.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	tiny := buf.Bytes()

	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "")
	b.AddPicture(sheet, "xl/media/image1.png", "image/png", tiny, 9525, 9525)
	a, err := archive.Load(b.Bytes())
	require.NoError(t, err)

	results, err := NewSlimmer(DefaultOptions(), nil).Slim(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SkipNotSmaller, results[0].Skip)

	part, _ := a.Part("xl/media/image1.png")
	assert.Equal(t, tiny, part.Data)
}

func TestSlim_SkipsWhatItCannotHandle(t *testing.T) {
	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "")
	b.AddPicture(sheet, "xl/media/image1.gif", "image/gif", []byte("GIF89a"), 9525, 9525)
	b.AddPicture(sheet, "xl/media/image2.png", "image/png", []byte("\x89PNG broken"), 9525, 9525)
	a, err := archive.Load(b.Bytes())
	require.NoError(t, err)

	results, err := NewSlimmer(DefaultOptions(), nil).Slim(context.Background(), a)
	require.NoError(t, err)

	byPart := make(map[string]Result)
	for _, r := range results {
		byPart[r.Part] = r
	}
	assert.Equal(t, SkipUnsupported, byPart["xl/media/image1.gif"].Skip)
	assert.Equal(t, SkipDecode, byPart["xl/media/image2.png"].Skip)
	assert.ErrorIs(t, byPart["xl/media/image2.png"].Err, archive.ErrImageDecode)
	for _, r := range results {
		assert.False(t, r.Changed(), r.Part)
	}
}

func TestSlim_Cancelled(t *testing.T) {
	b := xlsxtest.New()
	sheet := b.AddSheet("Sheet1", "", "")
	b.AddPicture(sheet, "xl/media/image1.png", "image/png", encodePNG(t, gradient(8, 8, false)), 9525, 9525)
	a, err := archive.Load(b.Bytes())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSlimmer(DefaultOptions(), nil).Slim(ctx, a)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvert(t *testing.T) {
	opaque := encodePNG(t, gradient(300, 200, false))
	r := Convert("xl/media/image1.png", opaque, FormatPNG, FormatJPEG, DefaultOptions())
	require.True(t, r.Changed(), "skip=%s err=%v", r.Skip, r.Err)
	assert.Equal(t, FormatJPEG, r.Format)
	_, err := jpeg.Decode(bytes.NewReader(r.Data))
	require.NoError(t, err)

	transparent := encodePNG(t, gradient(300, 200, true))
	r = Convert("xl/media/image2.png", transparent, FormatPNG, FormatJPEG, DefaultOptions())
	assert.Equal(t, SkipAlpha, r.Skip)
	assert.Nil(t, r.Data)
}

func TestEncodeFamilies(t *testing.T) {
	img := gradient(32, 24, false)
	for _, f := range []Format{FormatJPEG, FormatPNG, FormatBMP, FormatTIFF} {
		data, err := Encode(f, img, 80)
		require.NoError(t, err, f)
		back, err := Decode(f, data)
		require.NoError(t, err, f)
		assert.Equal(t, img.Bounds().Size(), back.Bounds().Size(), f)
	}
	_, err := Encode(FormatGIF, img, 80)
	assert.Error(t, err)
}
