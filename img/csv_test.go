package img

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const testCSV = `left_eye_x,left_eye_y,nose_x,nose_y,Image
1.5,0.5,,,0 255 0 0 0 0 0 0 0
2,1,1,2,0 0 0 0 255 0 0 0 51
`

func TestLoadCSV(t *testing.T) {
	d, err := LoadCSV(strings.NewReader(testCSV))
	if err != nil {
		t.Fatal(err)
	}
	if d.Len() != 2 || d.NumPoints() != 2 {
		t.Fatalf("got %d samples with %d points", d.Len(), d.NumPoints())
	}
	if s := d.Shape(); s[0] != 3 || s[1] != 3 {
		t.Error("shape: got", s)
	}
	// row major input: pixel 1 is at x=1, y=0
	if d.Images[0].GrayAt(1, 0).Y != 1 {
		t.Error("pixel value: got", d.Images[0].Pix)
	}
	if v := d.Images[1].GrayAt(2, 2).Y; v != 0.2 {
		t.Error("pixel scale: got", v)
	}
	if !d.HasMissing(0) || d.HasMissing(1) {
		t.Error("missing flags wrong")
	}
	pts := d.LoadKeyPoints(0)
	if pts[0] != 1.5 || pts[1] != 0.5 || !isNaN(pts[2]) || !isNaN(pts[3]) {
		t.Error("key-points: got", pts)
	}
	pts[0] = 99
	if d.Points[0][0] != 1.5 {
		t.Error("LoadKeyPoints should return a copy")
	}
}

func TestLoadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"no image column": "a_x,a_y\n1,2\n",
		"odd columns":     "a_x,Image\n1,0\n",
		"not square":      "a_x,a_y,Image\n1,2,0 0 0\n",
		"bad pixel":       "a_x,a_y,Image\n1,2,0 0 0 x\n",
		"bad coord":       "a_x,a_y,Image\nz,2,0\n",
		"empty":           "a_x,a_y,Image\n",
	}
	for name, data := range tests {
		if _, err := LoadCSV(strings.NewReader(data)); err == nil {
			t.Errorf("%s: expected error", name)
		} else {
			t.Logf("%s: %s", name, err)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	d, err := LoadCSV(strings.NewReader(testCSV))
	if err != nil {
		t.Fatal(err)
	}
	d.Mean, d.StdDev = GetStats(d.Images)
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	d2 := new(FaceData)
	if err := d2.Decode(&buf); err != nil {
		t.Fatal(err)
	}
	if d2.Len() != 2 || d2.Mean != d.Mean || d2.Names[2] != "nose_x" {
		t.Errorf("decoded header mismatch: %+v", d2.DataHead)
	}
	if !isNaN(d2.Points[0][2]) || d2.Images[1].Pix[8] != d.Images[1].Pix[8] {
		t.Error("decoded data mismatch")
	}
}

func TestDecodeError(t *testing.T) {
	d := new(FaceData)
	err := d.Decode(bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expecting error decoding empty input")
	}
	if errors.Cause(err) != io.EOF || !strings.HasPrefix(err.Error(), "error decoding header") {
		t.Error("got", err)
	}
}

func TestGetStats(t *testing.T) {
	m := NewGray(2, 1)
	m.Pix = []float32{0, 1}
	mean, std := GetStats([]*GrayImage{m})
	if mean != 0.5 || std < 0.7 || std > 0.71 {
		t.Error("got", mean, std)
	}
}
