package nnet

import (
	"fmt"
	"math"
	"time"

	"github.com/migonch/mesh-detection/stats"
)

// Training statistics for one epoch. Values has the validation metrics if they were evaluated
// at this epoch, else it is nil.
type Stats struct {
	Epoch   int
	Loss    float64
	Values  []float64
	Elapsed time.Duration
}

// Format the loss and any metric values for display
func (s Stats) Format() []string {
	str := []string{fmt.Sprintf("%8.4f", s.Loss)}
	for _, v := range s.Values {
		str = append(str, fmt.Sprintf("%8.4f", v))
	}
	return str
}

// History of the per batch training losses and the validation metrics recorded during a run
type History struct {
	Losses  [][]float64
	Metrics []string
	Epochs  []int
	Values  [][]float64
}

// Tester interface to evaluate the performance after each epoch, Test method returns true if training should stop.
type Tester interface {
	Test(net *Network, epoch int, losses []float64, start time.Time) bool
}

// Tester which records the training losses, runs the validator every ValidEvery epochs and updates the stats.
type TestBase struct {
	History
	Valid   *Validator
	Stats   []Stats
	Headers []string
}

// Create a new base class which implements the Tester interface. valid may be nil to skip validation.
func NewTestBase(valid *Validator) *TestBase {
	t := &TestBase{Valid: valid, Headers: []string{"loss"}}
	if valid != nil {
		t.Metrics = valid.Names()
		for _, name := range t.Metrics {
			t.Headers = append(t.Headers, "val "+name)
		}
	}
	return t
}

// Reset stats prior to new run
func (t *TestBase) Reset() {
	t.Stats = t.Stats[:0]
	t.Losses = t.Losses[:0]
	t.Epochs = t.Epochs[:0]
	t.Values = t.Values[:0]
}

// Test performance of the network, called from the Train function on completion of each epoch.
func (t *TestBase) Test(net *Network, epoch int, losses []float64, start time.Time) bool {
	done := epoch >= net.MaxEpoch
	t.Losses = append(t.Losses, losses)
	s := Stats{Epoch: epoch, Loss: stats.Mean(losses)}
	if t.Valid != nil && net.ValidEvery > 0 && (epoch%net.ValidEvery == 0 || done) {
		if net.DebugLevel >= 1 {
			fmt.Printf("== VALIDATE EPOCH %d ==\n", epoch)
		}
		s.Values = t.Valid.Evaluate(net)
		t.Epochs = append(t.Epochs, epoch)
		t.Values = append(t.Values, s.Values)
	}
	s.Elapsed = time.Since(start)
	t.Stats = append(t.Stats, s)
	return done || math.IsNaN(s.Loss)
}

// TestLogger is a tester which logs stats to stdout.
type TestLogger struct {
	*TestBase
}

// Create a new tester which logs stats to stdout.
func NewTestLogger(valid *Validator) TestLogger {
	return TestLogger{TestBase: NewTestBase(valid)}
}

func (t TestLogger) Test(net *Network, epoch int, losses []float64, start time.Time) bool {
	done := t.TestBase.Test(net, epoch, losses, start)
	s := t.Stats[len(t.Stats)-1]
	if done || net.LogEvery == 0 || epoch%net.LogEvery == 0 || s.Values != nil {
		msg := fmt.Sprintf("epoch %3d:", epoch)
		vals := s.Format()
		msg += fmt.Sprintf("  %s =%s", t.Headers[0], vals[0])
		for i, val := range vals[1:] {
			msg += fmt.Sprintf("  %s =%s", t.Headers[i+1], val)
		}
		fmt.Println(msg)
	}
	if done {
		fmt.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return done
}

// Train the network on the given training set by updating the weights for up to MaxEpoch epochs.
func Train(net *Network, dset *Dataset, opt Optimizer, test Tester) {
	done := false
	start := time.Now()
	for epoch := 1; epoch <= net.MaxEpoch && !done; epoch++ {
		losses := TrainEpoch(net, dset, opt)
		done = test.Test(net, epoch, losses, start)
	}
}

// Perform one training epoch on dataset, returns the loss for each batch prior to updating the weights.
func TrainEpoch(net *Network, dset *Dataset, opt Optimizer) []float64 {
	q := net.queue
	losses := make([]float64, 0, dset.Batches)
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		if net.DebugLevel >= 2 || (net.DebugLevel == 1 && batch == 0) {
			fmt.Printf("== train batch %d ==\n", batch)
		}
		q.Finish()
		x, y := dset.NextBatch()
		yPred := net.Fprop(x, true)
		if net.DebugLevel >= 2 {
			fmt.Printf("y:\n%s", y.String(q))
			fmt.Printf("yPred:\n%s", yPred.String(q))
		}
		loss, count := net.Loss(yPred, y)
		if count == 0 {
			losses = append(losses, 0)
			continue
		}
		losses = append(losses, loss)
		if net.DebugLevel >= 2 || (net.DebugLevel == 1 && batch == 0) {
			fmt.Printf("loss=%.4f count=%d input grad:\n%s", loss, count, net.inputGrad.String(q))
		}
		net.Bprop(net.inputGrad)
		opt.Step()
		if net.DebugLevel >= 2 || (batch == dset.Batches-1 && net.DebugLevel >= 1) {
			net.PrintWeights()
		}
	}
	q.Finish()
	return losses
}
