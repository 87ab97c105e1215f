package img

import (
	"bufio"
	"encoding/gob"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/migonch/mesh-detection/stats"
	"github.com/pkg/errors"
)

// Face image set with key-point coordinates for each image
type FaceData struct {
	DataHead
	Images []*GrayImage
	Points [][]float32
}

type DataHead struct {
	Names  []string
	Dims   []int
	Mean   float32
	StdDev float32
}

// Create a new data set, names has the column name for each key-point coordinate as x, y pairs.
func NewFaceData(names []string, images []*GrayImage, points [][]float32) *FaceData {
	d := &FaceData{DataHead: DataHead{Names: names}, Images: images, Points: points}
	if len(images) > 0 {
		d.Dims = []int{images[0].Height, images[0].Width}
	}
	return d
}

// Len function returns number of images
func (d *FaceData) Len() int { return len(d.Images) }

// Shape returns height, width
func (d *FaceData) Shape() []int { return d.Dims }

// NumPoints is the number of key-points per image
func (d *FaceData) NumPoints() int { return len(d.Names) / 2 }

// IDs returns the id of each sample
func (d *FaceData) IDs() []int {
	ids := make([]int, d.Len())
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// LoadImage returns the image with the given id
func (d *FaceData) LoadImage(id int) *GrayImage {
	return d.Images[id]
}

// LoadKeyPoints returns a copy of the key-point coordinates for the given id, missing values are NaN.
func (d *FaceData) LoadKeyPoints(id int) []float32 {
	return append([]float32{}, d.Points[id]...)
}

// HasMissing checks if any key-point coordinate is unknown
func (d *FaceData) HasMissing(id int) bool {
	for _, v := range d.Points[id] {
		if isNaN(v) {
			return true
		}
	}
	return false
}

// Sample returns the image and key-points for the given id. Pixel data is shared with the dataset.
func (d *FaceData) Sample(id int) Sample {
	m := d.Images[id]
	return Sample{Dims: []int{m.Height, m.Width}, Pix: m.Pix, Points: d.LoadKeyPoints(id)}
}

// Slice returns samples from start to end
func (d *FaceData) Slice(start, end int) *FaceData {
	data := *d
	data.Images = append([]*GrayImage{}, d.Images[start:end]...)
	data.Points = append([][]float32{}, d.Points[start:end]...)
	return &data
}

// Encode data to binary file
func (d *FaceData) Encode(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(&d.DataHead); err != nil {
		return errors.Wrap(err, "error encoding header")
	}
	if err := enc.Encode(d.Len()); err != nil {
		return errors.Wrap(err, "error encoding header")
	}
	for i, img := range d.Images {
		if err := enc.Encode(img); err != nil {
			return errors.Wrapf(err, "error encoding image %d", i)
		}
		if err := enc.Encode(d.Points[i]); err != nil {
			return errors.Wrapf(err, "error encoding points %d", i)
		}
	}
	return nil
}

// Decode data from binary file
func (d *FaceData) Decode(r io.Reader) error {
	d.DataHead = DataHead{}
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&d.DataHead); err != nil {
		return errors.Wrap(err, "error decoding header")
	}
	var n int
	if err := dec.Decode(&n); err != nil {
		return errors.Wrap(err, "error decoding header")
	}
	d.Images = make([]*GrayImage, n)
	d.Points = make([][]float32, n)
	for i := range d.Images {
		if err := dec.Decode(&d.Images[i]); err != nil {
			return errors.Wrapf(err, "error decoding image %d", i)
		}
		if err := dec.Decode(&d.Points[i]); err != nil {
			return errors.Wrapf(err, "error decoding points %d", i)
		}
	}
	return nil
}

// LoadData reads a data set from a .csv file or a .dat file created with SaveData.
// A leading ~ in the path is expanded to the user's home directory.
func LoadData(path string) (*FaceData, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error loading data")
	}
	defer f.Close()
	r := bufio.NewReader(f)
	if strings.ToLower(filepath.Ext(path)) == ".csv" {
		return LoadCSV(r)
	}
	d := new(FaceData)
	if err := d.Decode(r); err != nil {
		return nil, errors.Wrapf(err, "error decoding %s", path)
	}
	return d, nil
}

// SaveData writes the data set in binary format
func SaveData(path string, d *FaceData) error {
	path, err := ExpandHome(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error saving data")
	}
	w := bufio.NewWriter(f)
	if err := d.Encode(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "error saving data")
	}
	return f.Close()
}

// ExpandHome replaces a leading ~ with the current user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot expand path")
	}
	return filepath.Join(home, path[1:]), nil
}

// Calculate mean and stddev of the pixel values from set of images
func GetStats(images []*GrayImage) (mean, std float32) {
	stat := new(stats.Average)
	for _, img := range images {
		for _, val := range img.Pix {
			stat.Add(float64(val))
		}
	}
	mean, std = float32(stat.Mean), float32(stat.StdDev)
	if std == 0 || math.IsNaN(stat.StdDev) {
		std = 1
	}
	return mean, std
}
