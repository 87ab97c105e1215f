package nnet

import (
	"fmt"

	"github.com/migonch/mesh-detection/num"
)

// Optimizer updates the network weights from the gradients computed by the last Bprop call
type Optimizer interface {
	Step()
	SetEta(eta float64)
	String() string
}

// Adam optimiser with bias corrected first and second moment estimates
type Adam struct {
	Eta, Beta1, Beta2, Epsilon float64
	queue                      num.Queue
	params                     []adamParam
	step                       int
}

type adamParam struct {
	w, dw, m, v num.Array
}

// NewAdam allocates the moment arrays for each of the parameter layers in the network.
// The settings are taken from the network config.
func NewAdam(net *Network) *Adam {
	q := net.Queue()
	a := &Adam{Eta: net.Eta, Beta1: net.Beta1, Beta2: net.Beta2, Epsilon: net.Epsilon, queue: q}
	for _, l := range net.ParamLayers() {
		W, B := l.Params()
		dW, dB := l.ParamGrads()
		a.add(W, dW)
		if B != nil {
			a.add(B, dB)
		}
	}
	return a
}

func (a *Adam) add(w, dw num.Array) {
	p := adamParam{w: w, dw: dw, m: a.queue.NewArrayLike(w), v: a.queue.NewArrayLike(w)}
	a.queue.Call(num.Fill(p.m, 0), num.Fill(p.v, 0))
	a.params = append(a.params, p)
}

// Step applies one update to every parameter array
func (a *Adam) Step() {
	a.step++
	for _, p := range a.params {
		a.queue.Call(num.Adam(p.w, p.dw, p.m, p.v, a.step, float32(a.Eta), float32(a.Beta1), float32(a.Beta2), float32(a.Epsilon)))
	}
}

// SetEta updates the learning rate
func (a *Adam) SetEta(eta float64) {
	a.Eta = eta
}

// Steps returns the number of updates applied so far
func (a *Adam) Steps() int { return a.step }

func (a *Adam) String() string {
	return fmt.Sprintf("Adam(eta=%g beta1=%g beta2=%g eps=%g) params=%d", a.Eta, a.Beta1, a.Beta2, a.Epsilon, len(a.params))
}
