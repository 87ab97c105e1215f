// Train the key-point model and save the weights, losses and validation metrics to the experiment directory.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/nnet"
)

func main() {
	conf := nnet.DefaultConfig()
	var configFile string
	var evalTest bool
	flag.StringVar(&configFile, "config", "", "load settings from json config file")
	flag.StringVar(&conf.DataSet, "data", conf.DataSet, "training data csv or cache file")
	flag.Float64Var(&conf.Eta, "eta", conf.Eta, "learning rate")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed")
	flag.IntVar(&conf.MaxEpoch, "epochs", conf.MaxEpoch, "max epochs")
	flag.IntVar(&conf.TrainBatch, "batch", conf.TrainBatch, "train batch size")
	flag.IntVar(&conf.MaxShift, "shift", conf.MaxShift, "max random shift in pixels")
	flag.IntVar(&conf.Fold, "fold", conf.Fold, "cross validation fold")
	flag.IntVar(&conf.Threads, "threads", conf.Threads, "number of worker threads")
	flag.StringVar(&conf.Head, "head", conf.Head, "output head: heatmap or dense")
	flag.IntVar(&conf.DebugLevel, "debug", conf.DebugLevel, "debug logging level")
	flag.BoolVar(&conf.Profile, "profile", conf.Profile, "print profiling info")
	flag.BoolVar(&evalTest, "test", false, "evaluate the test set after training")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: train [opts] <experiment_dir>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	if configFile != "" {
		conf = loadConfig(configFile)
	}
	expDir := flag.Arg(0)
	nnet.CheckErr(os.MkdirAll(expDir, 0755))

	data, err := img.LoadData(conf.DataSet)
	nnet.CheckErr(err)
	exp, err := nnet.NewExperiment(conf, data, nnet.DefaultStructure())
	nnet.CheckErr(err)
	fmt.Printf("loaded %d samples from %s: train=%d valid=%d test=%d\n", data.Len(), conf.DataSet,
		len(exp.Split.Train), len(exp.Split.Val), len(exp.Split.Test))
	fmt.Println(exp.Net)
	if conf.DebugLevel >= 1 {
		fmt.Println(exp.TrainData)
		fmt.Println(exp.ValidData)
	}
	fmt.Println(exp.Opt)

	exp.Run()
	if evalTest {
		fmt.Println("test set:", exp.Tester.Valid.Format(exp.Test()))
	}
	nnet.CheckErr(exp.Save(expDir))
	fmt.Println("saved model and history to", expDir)
	exp.Release()
}

func loadConfig(path string) nnet.Config {
	conf, err := nnet.LoadConfig(path)
	nnet.CheckErr(err)
	// command line flags take precedence, layers from the file are kept unless the head is overridden
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" || f.Name == "test" {
			return
		}
		key, ok := flagFields[f.Name]
		if !ok {
			return
		}
		conf, err = conf.SetString(key, f.Value.String())
		nnet.CheckErr(err)
		if f.Name == "head" {
			conf.Layers = nil
		}
	})
	return conf
}

var flagFields = map[string]string{
	"data": "DataSet", "eta": "Eta", "seed": "RandSeed", "epochs": "MaxEpoch", "batch": "TrainBatch",
	"shift": "MaxShift", "fold": "Fold", "threads": "Threads", "head": "Head", "debug": "DebugLevel", "profile": "Profile",
}
