// Package parser reads the parts of a spreadsheet package that the slimming
// stages need: the sheet list, drawings, charts and every formula location.
package parser

// EMUPerPixel is the number of EMUs (English Metric Units) per pixel at 96 DPI.
// 1 inch = 914400 EMU, 1 inch = 96 pixels at 96 DPI
// Therefore: 914400 / 96 = 9525 EMU per pixel
const EMUPerPixel = 9525

// EMUToPixels converts EMU to pixels at 96 DPI, rounding to the nearest pixel.
func EMUToPixels(emu int64) int {
	return int((emu + EMUPerPixel/2) / EMUPerPixel)
}
