package nnet

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/num"
)

// Dataset type encapsulates a set of training, test or validation data. The next batch is loaded
// in the background while the current one is in use.
type Dataset struct {
	Data      *img.FaceData
	Samples   int
	BatchSize int
	Batches   int
	shape     []int
	ids       []int
	indexes   []int
	train     bool
	trans     *img.Transformer
	queue     num.Queue
	xBuffer   []float32
	yBuffer   []float32
	batchIDs  [2][]int
	x, y      [2]num.Array
	buf       int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset for the samples with the given ids and allocate array buffers. For training
// the order is shuffled each epoch and any final partial batch is skipped, the batch size is capped at
// the number of samples. Otherwise the samples are returned in order and the last batch is padded with
// blank images with missing key-points, so the batch size always matches the network.
// Transforms are run with the given number of threads, random shifts are repeatable for the same seed and thread count.
func NewDataset(dev num.Device, data *img.FaceData, ids []int, batchSize int, train bool, threads int, rng *rand.Rand, trans ...img.Transform) *Dataset {
	if len(ids) == 0 {
		panic("NewDataset: no samples")
	}
	d := &Dataset{Data: data, Samples: len(ids), ids: ids, train: train, rng: rng}
	if batchSize <= 0 || (train && batchSize > d.Samples) {
		batchSize = d.Samples
	}
	d.BatchSize = batchSize
	d.Batches = d.Samples / d.BatchSize
	if !train && d.Samples%d.BatchSize != 0 {
		d.Batches++
	}
	d.trans = img.NewTransformer(data, threads, rng, trans...)
	d.shape = d.trans.Shape(data.Shape())
	nfeat := num.Prod(d.shape)
	npoints := 2 * data.NumPoints()
	d.xBuffer = make([]float32, nfeat*d.BatchSize)
	d.yBuffer = make([]float32, npoints*d.BatchSize)
	for i := range d.x {
		d.x[i] = dev.NewArray(append(append([]int{}, d.shape...), d.BatchSize)...)
		d.y[i] = dev.NewArray(npoints, d.BatchSize)
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.queue = dev.NewQueue(1)
	return d
}

// Shape returns the dimensions of each sample after any transforms are applied
func (d *Dataset) Shape() []int { return d.shape }

// kick of load of next batch of data in background
func (d *Dataset) loadBatch() {
	d.Add(1)
	go func(batch, buf int) {
		start := batch * d.BatchSize
		end := start + d.BatchSize
		if end > d.Samples {
			end = d.Samples
		}
		ids := make([]int, end-start)
		for i, ix := range d.indexes[start:end] {
			ids[i] = d.ids[ix]
		}
		samples := d.trans.TransformBatch(ids, nil)
		nfeat, npoints := num.Prod(d.shape), 2*d.Data.NumPoints()
		for i := 0; i < d.BatchSize; i++ {
			x := d.xBuffer[i*nfeat : (i+1)*nfeat]
			y := d.yBuffer[i*npoints : (i+1)*npoints]
			if i < len(samples) {
				copy(x, samples[i].Pix)
				copy(y, samples[i].Points)
				continue
			}
			for j := range x {
				x[j] = 0
			}
			for j := range y {
				y[j] = float32(math.NaN())
			}
		}
		d.batchIDs[buf] = ids
		d.queue.Call(
			num.Write(d.x[buf], d.xBuffer),
			num.Write(d.y[buf], d.yBuffer),
		).Finish()
		d.Done()
	}(d.batch, d.buf)
}

// Get next batch of data, NextEpoch must be called first. x has shape [height, width, channels, batch] and y has the key-point
// coordinates with shape [2*points, batch].
func (d *Dataset) NextBatch() (x, y num.Array) {
	d.Wait()
	x, y = d.x[d.buf], d.y[d.buf]
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// BatchIDs returns the sample ids for the batch most recently returned by NextBatch
func (d *Dataset) BatchIDs() []int {
	return d.batchIDs[(d.buf+1)%2]
}

// Called at start of each epoch, training data is reshuffled.
func (d *Dataset) NextEpoch() {
	d.Wait()
	if d.train {
		d.Shuffle()
	}
	d.batch = 0
	d.loadBatch()
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

// Describe the dataset
func (d *Dataset) String() string {
	mode := "eval"
	if d.train {
		mode = "train"
	}
	return fmt.Sprintf("%s: samples=%d batch=%d batches=%d shape=%v transforms=[%s]",
		mode, d.Samples, d.BatchSize, d.Batches, d.shape, d.trans)
}
