// Convert the key-point csv file to a cached data file and print summary statistics.
package main

import (
	"flag"
	"fmt"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/nnet"
)

func main() {
	var outFile, sampleDir string
	var samples int
	flag.StringVar(&outFile, "out", "", "output data file - default is input with .dat extension")
	flag.StringVar(&sampleDir, "samples", "", "directory to save example images with key-points marked")
	flag.IntVar(&samples, "n", 10, "number of example images to save")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: facedata [opts] <training.csv>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	inFile := flag.Arg(0)
	data, err := img.LoadData(inFile)
	nnet.CheckErr(err)
	data.Mean, data.StdDev = img.GetStats(data.Images)

	missing := make([]int, data.NumPoints())
	complete := 0
	for _, id := range data.IDs() {
		pts := data.LoadKeyPoints(id)
		if !data.HasMissing(id) {
			complete++
		}
		for i := range missing {
			if math.IsNaN(float64(pts[2*i])) {
				missing[i]++
			}
		}
	}
	fmt.Printf("%d images of size %v: %d with all key-points, pixel mean=%.4f stddev=%.4f\n",
		data.Len(), data.Shape(), complete, data.Mean, data.StdDev)
	for i, n := range missing {
		name := strings.TrimSuffix(data.Names[2*i], "_x")
		fmt.Printf("  %-28s missing %5d\n", name, n)
	}

	if outFile == "" {
		outFile = strings.TrimSuffix(inFile, filepath.Ext(inFile)) + ".dat"
	}
	nnet.CheckErr(img.SaveData(outFile, data))
	fmt.Println("saved data to", outFile)

	if sampleDir != "" {
		nnet.CheckErr(os.MkdirAll(sampleDir, 0755))
		for id := 0; id < samples && id < data.Len(); id++ {
			m := img.MarkPoints(data.LoadImage(id), [][]float32{data.LoadKeyPoints(id)}, []img.RGB{img.TrueColor})
			nnet.CheckErr(savePNG(filepath.Join(sampleDir, fmt.Sprintf("face_%04d.png", id)), m))
		}
	}
}

func savePNG(path string, m *img.RGBImage) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, m)
}
