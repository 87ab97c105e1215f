// Package img contains routines for loading and manipulating sets of face images with their key-points.
package img

import (
	"image"
	"image/color"
	"image/draw"
)

var (
	GrayModel = color.ModelFunc(grayModel)
	RGBModel  = color.ModelFunc(rgbModel)
)

// Colours used to mark key-points
var (
	TrueColor = RGB{G: 1}
	PredColor = RGB{R: 1}
)

// Gray color stored a float in range 0-1
type Gray struct {
	Y float32
}

func (c Gray) RGBA() (r, g, b, a uint32) {
	y := clampu(c.Y, 0, 1)
	return y, y, y, 0xffff
}

func grayModel(c color.Color) color.Color {
	if _, ok := c.(Gray); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return Gray{Y: 0.299*float32(r)/0xffff + 0.587*float32(g)/0xffff + 0.114*float32(b)/0xffff}
}

// RGB color is stored as a float for each channel with values in range 0-1
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// Image interface type with additional method to get the pixel data
type Image interface {
	draw.Image
	Pixels(ch int) []float32
	Channels() int
}

// GrayImage type stores the image data as float32 values in column major order.
type GrayImage struct {
	Pix    []float32
	Height int
	Width  int
}

func NewGray(width, height int) *GrayImage {
	return &GrayImage{Pix: make([]float32, height*width), Height: height, Width: width}
}

// Convert any image to grayscale with values scaled to 0-1
func ToGray(src image.Image) *GrayImage {
	b := src.Bounds()
	dst := NewGray(b.Dx(), b.Dy())
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			dst.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func (m *GrayImage) Channels() int {
	return 1
}

func (m *GrayImage) ColorModel() color.Model {
	return GrayModel
}

func (m *GrayImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *GrayImage) GrayAt(x, y int) Gray {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return Gray{}
	}
	return Gray{Y: m.Pix[y+x*m.Height]}
}

func (m *GrayImage) At(x, y int) color.Color {
	return m.GrayAt(x, y)
}

func (m *GrayImage) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	m.Pix[y+x*m.Height] = grayModel(c).(Gray).Y
}

func (m *GrayImage) Pixels(ch int) []float32 {
	return m.Pix
}

// RGBImage type stores the image data as float32 values in column major order with r, g and b color planes stored separately.
type RGBImage struct {
	Pix    []float32
	Height int
	Width  int
}

func NewRGB(width, height int) *RGBImage {
	return &RGBImage{Pix: make([]float32, height*width*3), Height: height, Width: width}
}

func (m *RGBImage) Channels() int {
	return 3
}

func (m *RGBImage) ColorModel() color.Model {
	return RGBModel
}

func (m *RGBImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *RGBImage) RGBAt(x, y int) RGB {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return RGB{}
	}
	r := m.Pix[y+x*m.Height]
	g := m.Pix[y+x*m.Height+m.Width*m.Height]
	b := m.Pix[y+x*m.Height+2*m.Width*m.Height]
	return RGB{R: r, G: g, B: b}
}

func (m *RGBImage) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func (m *RGBImage) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	rgb := rgbModel(c).(RGB)
	m.Pix[y+x*m.Height] = rgb.R
	m.Pix[y+x*m.Height+m.Width*m.Height] = rgb.G
	m.Pix[y+x*m.Height+2*m.Width*m.Height] = rgb.B
}

func (m *RGBImage) Pixels(ch int) []float32 {
	if ch >= 0 && ch <= 2 {
		return m.Pix[ch*m.Width*m.Height : (ch+1)*m.Width*m.Height]
	}
	return m.Pix
}

// MarkPoints returns a colour copy of the image with each set of key-points drawn as a small cross.
// Points are stored as x, y pairs and missing values are skipped.
func MarkPoints(src *GrayImage, points [][]float32, colors []RGB) *RGBImage {
	dst := NewRGB(src.Width, src.Height)
	for ch := 0; ch < 3; ch++ {
		copy(dst.Pixels(ch), src.Pix)
	}
	for i, pts := range points {
		col := colors[i%len(colors)]
		for j := 0; j+1 < len(pts); j += 2 {
			if isNaN(pts[j]) || isNaN(pts[j+1]) {
				continue
			}
			x, y := int(pts[j]+0.5), int(pts[j+1]+0.5)
			for d := -1; d <= 1; d++ {
				dst.Set(x+d, y, col)
				dst.Set(x, y+d, col)
			}
		}
	}
	return dst
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

func isNaN(x float32) bool {
	return x != x
}
