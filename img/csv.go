package img

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Name of the column which holds the pixel data
const ImageColumn = "Image"

// LoadCSV reads a face key-point table. The first row is a header with a column name for each
// key-point coordinate as x, y pairs plus an Image column of space separated 0-255 grey levels for a square
// image in row major order. Empty coordinate values are stored as NaN.
func LoadCSV(r io.Reader) (*FaceData, error) {
	rd := csv.NewReader(r)
	rd.ReuseRecord = true
	header, err := rd.Read()
	if err != nil {
		return nil, errors.Wrap(err, "error reading csv header")
	}
	imageCol := -1
	var names []string
	var cols []int
	for i, name := range header {
		if name == ImageColumn {
			imageCol = i
			continue
		}
		names = append(names, name)
		cols = append(cols, i)
	}
	if imageCol < 0 {
		return nil, errors.Errorf("csv header has no %s column", ImageColumn)
	}
	if len(names) == 0 || len(names)%2 != 0 {
		return nil, errors.Errorf("csv header should have x, y column pairs: got %d columns", len(names))
	}
	d := NewFaceData(names, nil, nil)
	for line := 2; ; line++ {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error reading csv line %d", line)
		}
		points := make([]float32, len(cols))
		for i, col := range cols {
			if points[i], err = parseCoord(rec[col]); err != nil {
				return nil, errors.Wrapf(err, "line %d column %s", line, header[col])
			}
		}
		img, err := parseImage(rec[imageCol])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if d.Dims == nil {
			d.Dims = []int{img.Height, img.Width}
		} else if img.Height != d.Dims[0] || img.Width != d.Dims[1] {
			return nil, errors.Errorf("line %d: image size %dx%d does not match %dx%d", line, img.Width, img.Height, d.Dims[1], d.Dims[0])
		}
		d.Images = append(d.Images, img)
		d.Points = append(d.Points, points)
	}
	if d.Len() == 0 {
		return nil, errors.New("csv file has no data")
	}
	return d, nil
}

func parseCoord(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return float32(math.NaN()), nil
	}
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

func parseImage(s string) (*GrayImage, error) {
	fields := strings.Fields(s)
	size := int(math.Sqrt(float64(len(fields))) + 0.5)
	if size == 0 || size*size != len(fields) {
		return nil, errors.Errorf("image should be square: got %d pixels", len(fields))
	}
	m := NewGray(size, size)
	for i, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil || v < 0 || v > 255 {
			return nil, errors.Errorf("invalid pixel value %q", field)
		}
		y, x := i/size, i%size
		m.Pix[y+x*size] = float32(v) / 255
	}
	return m, nil
}
