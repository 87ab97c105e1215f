// Detect faces in a photo, predict the key-points for each one with a trained model and save an annotated copy.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/nnet"
	"github.com/migonch/mesh-detection/num"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// faces are expanded by this fraction of their size before cropping
const padding = 0.1

var (
	faceColor  = color.RGBA{B: 255}
	pointColor = color.RGBA{R: 255}
)

func main() {
	var modelFile, cascadeFile, outFile string
	flag.StringVar(&modelFile, "model", "model.gob", "trained model file")
	flag.StringVar(&cascadeFile, "cascade", "haarcascade_frontalface_default.xml", "opencv face detection cascade")
	flag.StringVar(&outFile, "out", "", "output image - default is input with _points suffix")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: predict [opts] <image>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	inFile := flag.Arg(0)
	if outFile == "" {
		ext := filepath.Ext(inFile)
		outFile = inFile[:len(inFile)-len(ext)] + "_points" + ext
	}

	q := num.NewDevice().NewQueue(0)
	net, err := nnet.LoadModel(modelFile, q, 1)
	nnet.CheckErr(err)
	inShape := net.InShape()
	size := inShape[0]

	photo := gocv.IMRead(inFile, gocv.IMReadColor)
	if photo.Empty() {
		nnet.CheckErr(errors.Errorf("error reading image %s", inFile))
	}
	defer photo.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(photo, &gray, gocv.ColorBGRToGray)

	classifier := gocv.NewCascadeClassifier()
	defer classifier.Close()
	if !classifier.Load(cascadeFile) {
		nnet.CheckErr(errors.Errorf("error loading cascade file %s", cascadeFile))
	}
	bounds := image.Rect(0, 0, gray.Cols(), gray.Rows())
	var rects []image.Rectangle
	for _, r := range classifier.DetectMultiScale(gray) {
		rects = append(rects, expand(r, bounds))
	}
	fmt.Printf("found %d faces in %s\n", len(rects), inFile)
	if len(rects) == 0 {
		return
	}

	faces := cropFaces(gray, rects, size, net.NumPoints)
	trans := []img.Transform{img.AddChannelDim{}}
	if net.Normalise {
		trans = append(trans, img.Normalise{Mean: float32(net.Mean), StdDev: float32(net.StdDev)})
	}
	dset := nnet.NewDataset(q.Dev(), faces, faces.IDs(), 1, false, 1, rand.New(rand.NewSource(1)), trans...)
	dset.NextEpoch()
	for i, r := range rects {
		q.Finish()
		x, _ := dset.NextBatch()
		points := net.Predict(x)
		scale := float64(r.Dx()) / float64(size)
		gocv.Rectangle(&photo, r, faceColor, 2)
		pts := img.ScalePoints(points, float64(r.Min.X), float64(r.Min.Y), scale)
		for j := 0; j+1 < len(pts); j += 2 {
			gocv.Circle(&photo, image.Pt(int(math.Round(float64(pts[j]))), int(math.Round(float64(pts[j+1])))), 3, pointColor, -1)
		}
		if net.DebugLevel >= 1 {
			fmt.Printf("face %d at %v: %v\n", i, r, points)
		}
	}
	if !gocv.IMWrite(outFile, photo) {
		nnet.CheckErr(errors.Errorf("error writing image %s", outFile))
	}
	fmt.Println("saved annotated image to", outFile)
	q.Shutdown()
}

// make the rectangle square, add padding and clip to the image
func expand(r, bounds image.Rectangle) image.Rectangle {
	side := r.Dx()
	if r.Dy() > side {
		side = r.Dy()
	}
	side += int(2 * padding * float64(side))
	c := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
	sq := image.Rect(c.X-side/2, c.Y-side/2, c.X-side/2+side, c.Y-side/2+side)
	if sq.In(bounds) {
		return sq
	}
	return r.Intersect(bounds)
}

// resize each face to the model input size and convert to a data set with missing key-points
func cropFaces(gray gocv.Mat, rects []image.Rectangle, size, numPoints int) *img.FaceData {
	var images []*img.GrayImage
	var points [][]float32
	for _, r := range rects {
		region := gray.Region(r)
		resized := gocv.NewMat()
		gocv.Resize(region, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationArea)
		m := img.NewGray(size, size)
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				m.Pix[y+size*x] = float32(resized.GetUCharAt(y, x)) / 255
			}
		}
		region.Close()
		resized.Close()
		images = append(images, m)
		pts := make([]float32, 2*numPoints)
		for i := range pts {
			pts[i] = float32(math.NaN())
		}
		points = append(points, pts)
	}
	names := make([]string, 2*numPoints)
	for i := range names {
		names[i] = fmt.Sprintf("p%d_%c", i/2, "xy"[i%2])
	}
	return img.NewFaceData(names, images, points)
}
