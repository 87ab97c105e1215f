// Write the default key-point model config to a json file which can be edited and passed to train -config.
package main

import (
	"flag"
	"fmt"

	"github.com/migonch/mesh-detection/nnet"
)

func main() {
	conf := nnet.DefaultConfig()
	var out string
	flag.StringVar(&out, "out", "bitnet.json", "output file")
	flag.StringVar(&conf.Head, "head", conf.Head, "output head: heatmap or dense")
	flag.IntVar(&conf.NumPoints, "points", conf.NumPoints, "number of key-points")
	flag.BoolVar(&conf.Normalise, "normalise", conf.Normalise, "normalise pixel values")
	flag.Parse()

	layers, err := nnet.BitNet(nnet.DefaultStructure(), conf.NumPoints, conf.Head)
	nnet.CheckErr(err)
	conf = conf.AddLayers(layers...)
	fmt.Println(conf)
	nnet.CheckErr(conf.Save(out))
}
