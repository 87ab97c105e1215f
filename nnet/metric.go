package nnet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/migonch/mesh-detection/num"
)

// Metric accumulates a score over batches of predicted and target key-points
type Metric interface {
	Name() string
	Init(q num.Queue, shape []int)
	Reset()
	Add(yPred, y num.Array)
	Value() float64
}

// L2 metric is the mean euclidean distance in pixels between predicted and actual key-points.
// Missing points are skipped.
type L2 struct {
	queue        num.Queue
	total, count num.Array
}

func (m *L2) Name() string { return "l2" }

func (m *L2) Init(q num.Queue, shape []int) {
	m.queue = q
	m.total = q.NewArray()
	m.count = q.NewArray()
}

func (m *L2) Reset() {
	m.queue.Call(num.Fill(m.total, 0), num.Fill(m.count, 0))
}

func (m *L2) Add(yPred, y num.Array) {
	m.queue.Call(num.PointDistance(yPred, y, m.total, m.count))
}

func (m *L2) Value() float64 {
	res := make([]float32, 2)
	m.queue.Call(num.Read(m.total, res[:1]), num.Read(m.count, res[1:])).Finish()
	if res[1] == 0 {
		return 0
	}
	return float64(res[0] / res[1])
}

// MSE metric is the masked mean squared error over all of the coordinates which are present, i.e.
// the training loss evaluated over the whole dataset.
type MSE struct {
	queue           num.Queue
	grad, loss, cnt num.Array
	sum             float64
	count           int
}

func (m *MSE) Name() string { return "loss" }

func (m *MSE) Init(q num.Queue, shape []int) {
	m.queue = q
	m.grad = q.NewArray(shape...)
	m.loss = q.NewArray()
	m.cnt = q.NewArray()
}

func (m *MSE) Reset() {
	m.sum, m.count = 0, 0
}

func (m *MSE) Add(yPred, y num.Array) {
	res := make([]float32, 2)
	m.queue.Call(
		num.SquaredError(yPred, y, m.grad, m.loss, m.cnt),
		num.Read(m.loss, res[:1]),
		num.Read(m.cnt, res[1:]),
	).Finish()
	m.sum += float64(res[0]) * float64(res[1])
	m.count += int(res[1])
}

func (m *MSE) Value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Default metrics computed on the validation set
func DefaultMetrics() []Metric {
	return []Metric{&L2{}, &MSE{}}
}

// Validator evaluates a network in inference mode over a dataset
type Validator struct {
	Data    *Dataset
	Metrics []Metric
}

// NewValidator creates a validator for the dataset, if no metrics are given the default ones are used.
// The metrics are sorted by name.
func NewValidator(net *Network, dset *Dataset, metrics ...Metric) *Validator {
	if len(metrics) == 0 {
		metrics = DefaultMetrics()
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name() < metrics[j].Name() })
	for _, m := range metrics {
		m.Init(net.Queue(), net.OutShape())
	}
	return &Validator{Data: dset, Metrics: metrics}
}

// Names returns the metric names in sorted order
func (v *Validator) Names() []string {
	names := make([]string, len(v.Metrics))
	for i, m := range v.Metrics {
		names[i] = m.Name()
	}
	return names
}

// Evaluate runs each batch of the dataset through the network and returns the metric values in name order
func (v *Validator) Evaluate(net *Network) []float64 {
	q := net.Queue()
	for _, m := range v.Metrics {
		m.Reset()
	}
	v.Data.NextEpoch()
	for batch := 0; batch < v.Data.Batches; batch++ {
		q.Finish()
		x, y := v.Data.NextBatch()
		yPred := net.Fprop(x, false)
		for _, m := range v.Metrics {
			m.Add(yPred, y)
		}
	}
	values := make([]float64, len(v.Metrics))
	for i, m := range v.Metrics {
		values[i] = m.Value()
	}
	return values
}

// Format the metric values for logging
func (v *Validator) Format(values []float64) string {
	s := make([]string, len(values))
	for i, val := range values {
		s[i] = fmt.Sprintf("%s=%.4f", v.Metrics[i].Name(), val)
	}
	return strings.Join(s, " ")
}
