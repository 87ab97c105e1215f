package nnet

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/num"
	"github.com/pkg/errors"
)

// SplitFile has the sample ids used for each of the train, validation and test sets.
const SplitFile = "split.json"

// Experiment bundles the data split, model, optimiser and validation for one training run.
type Experiment struct {
	Config
	Data      *img.FaceData
	Split     Split
	Net       *Network
	TrainData *Dataset
	ValidData *Dataset
	Opt       *Adam
	Tester    TestLogger
	queue     num.Queue
	evalTrans []img.Transform
	rng       *rand.Rand
}

// NewExperiment splits the data stratified by whether any key-points are missing, builds the network
// and sets up the training and validation datasets. The layers from the config are used if set, else
// they are generated from the given structure. Weights are initialised from the config random seed.
func NewExperiment(conf Config, data *img.FaceData, structure Structure) (*Experiment, error) {
	e := &Experiment{Data: data}
	ids := data.IDs()
	missing := make([]bool, len(ids))
	for i, id := range ids {
		missing[i] = data.HasMissing(id)
	}
	splits, err := StratifiedSplit(ids, missing, conf.Folds, conf.ValFraction, rand.New(rand.NewSource(conf.RandSeed)))
	if err != nil {
		return nil, err
	}
	if conf.Fold < 0 || conf.Fold >= len(splits) {
		return nil, errors.Errorf("invalid fold %d - must be less than %d", conf.Fold, len(splits))
	}
	e.Split = splits[conf.Fold]

	conf.NumPoints = data.NumPoints()
	if len(conf.Layers) == 0 {
		dims := data.Shape()
		if err := structure.CheckInput(dims[0], dims[1]); err != nil {
			return nil, err
		}
		layers, err := BitNet(structure, conf.NumPoints, conf.Head)
		if err != nil {
			return nil, err
		}
		conf = conf.AddLayers(layers...)
	}

	e.evalTrans = []img.Transform{img.AddChannelDim{}}
	if conf.Normalise {
		if data.StdDev == 0 {
			data.Mean, data.StdDev = img.GetStats(data.Images)
		}
		conf.Mean, conf.StdDev = float64(data.Mean), float64(data.StdDev)
		e.evalTrans = append(e.evalTrans, img.Normalise{Mean: data.Mean, StdDev: data.StdDev})
	}
	trainTrans := append([]img.Transform{img.RandomShift{MaxShift: conf.MaxShift}}, e.evalTrans...)

	dev := num.NewDevice()
	e.queue = dev.NewQueue(conf.Threads)
	e.rng = SetSeed(conf.RandSeed)
	e.TrainData = NewDataset(dev, data, e.Split.Train, conf.TrainBatch, true, e.queue.Threads(), e.rng, trainTrans...)
	e.Net = New(e.queue, conf, e.TrainData.BatchSize, e.TrainData.Shape())
	if out := e.Net.OutShape(); len(out) != 2 || out[0] != 2*conf.NumPoints {
		e.queue.Shutdown()
		return nil, errors.Errorf("network output shape %v does not match %d key-points", out, conf.NumPoints)
	}
	e.Net.InitWeights(e.rng)
	e.ValidData = e.EvalData(e.Split.Val)
	e.Config = conf
	e.Opt = NewAdam(e.Net)
	e.Tester = NewTestLogger(NewValidator(e.Net, e.ValidData))
	return e, nil
}

// EvalData returns a dataset without augmentation for the given sample ids
func (e *Experiment) EvalData(ids []int) *Dataset {
	return NewDataset(e.queue.Dev(), e.Data, ids, e.Net.BatchSize(), false, e.queue.Threads(), e.rng, e.evalTrans...)
}

// Queue used for all of the compute operations
func (e *Experiment) Queue() num.Queue { return e.queue }

// Run trains the network for up to MaxEpoch epochs.
func (e *Experiment) Run() {
	e.queue.Profiling(e.Profile, "train")
	Train(e.Net, e.TrainData, e.Opt, e.Tester)
	if e.Profile {
		fmt.Print(e.queue.Profile())
	}
}

// Test evaluates the metrics on the held out test set
func (e *Experiment) Test() []float64 {
	valid := NewValidator(e.Net, e.EvalData(e.Split.Test))
	return valid.Evaluate(e.Net)
}

// Save the model weights, config, split and training history to dir.
func (e *Experiment) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := SaveModel(e.Net, filepath.Join(dir, ModelFile)); err != nil {
		return err
	}
	if err := e.Config.Save(filepath.Join(dir, ConfigFile)); err != nil {
		return err
	}
	if err := e.Split.Save(filepath.Join(dir, SplitFile)); err != nil {
		return err
	}
	return e.Tester.History.Save(dir)
}

// Release the compute queue
func (e *Experiment) Release() {
	e.queue.Shutdown()
}
