// Package nnet contains routines for constructing, training and testing neural networks for key-point regression.
package nnet

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/migonch/mesh-detection/num"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers    []Layer
	queue     num.Queue
	inShape   []int
	batchLoss num.Array
	count     num.Array
	inputGrad num.Array
}

// New function creates a new network with the given layers. inShape is the shape of one sample
// e.g. [height, width, channels].
func New(q num.Queue, conf Config, batchSize int, inShape []int) *Network {
	n := &Network{Config: conf, queue: q}
	n.inShape = append(append([]int{}, inShape...), batchSize)
	shape := n.inShape
	for _, l := range conf.Layers {
		layer := l.Unmarshal()
		layer.Init(q, shape)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape()
	}
	n.batchLoss = q.NewArray()
	n.count = q.NewArray()
	n.inputGrad = q.NewArray(shape...)
	return n
}

// Queue used for the network operations
func (n *Network) Queue() num.Queue { return n.queue }

// BatchSize is the number of samples in each batch
func (n *Network) BatchSize() int { return n.inShape[len(n.inShape)-1] }

// InShape returns the input dimensions including the batch size
func (n *Network) InShape() []int { return n.inShape }

// OutShape returns the output dimensions including the batch size
func (n *Network) OutShape() []int {
	if len(n.Layers) == 0 {
		return n.inShape
	}
	return n.Layers[len(n.Layers)-1].OutShape()
}

// Initialise network weights using the configured scheme
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, l := range n.ParamLayers() {
		l.InitParams(n.WeightInit, rng)
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

// ParamLayers returns all layers with parameters including those within compound layers
func (n *Network) ParamLayers() []ParamLayer {
	var list []ParamLayer
	walkLayers(n.Layers, func(l Layer) {
		if p, ok := l.(ParamLayer); ok {
			list = append(list, p)
		}
	})
	return list
}

// NumParams returns the total number of trainable parameters
func (n *Network) NumParams() int {
	total := 0
	for _, l := range n.ParamLayers() {
		W, B := l.Params()
		total += W.Size()
		if B != nil {
			total += B.Size()
		}
	}
	return total
}

func walkLayers(layers []Layer, fn func(Layer)) {
	for _, l := range layers {
		fn(l)
		if c, ok := l.(CompoundLayer); ok {
			walkLayers(c.Sublayers(), fn)
		}
	}
}

// Copy weights, bias arrays and batch norm statistics to destination net
func (n *Network) CopyTo(net *Network) {
	src, dst := n.ParamLayers(), net.ParamLayers()
	if len(src) != len(dst) {
		panic("CopyTo: networks have different structure")
	}
	for i, l := range src {
		W, B := l.Params()
		W2, B2 := dst[i].Params()
		n.queue.Call(num.Copy(W2, W))
		if B != nil {
			n.queue.Call(num.Copy(B2, B))
		}
		if s, ok := l.(StatsLayer); ok {
			mean, variance := s.Stats()
			mean2, variance2 := dst[i].(StatsLayer).Stats()
			n.queue.Call(num.Copy(mean2, mean), num.Copy(variance2, variance))
		}
	}
	n.queue.Finish()
}

// Feed forward the input to get the predicted output. In training mode batch norm layers use the
// batch statistics and update their running averages.
func (n *Network) Fprop(input num.Array, trainMode bool) num.Array {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 {
			fmt.Printf("layer %d input\n%s", i, pred.String(n.queue))
		}
		pred = layer.Fprop(pred, trainMode)
	}
	return pred
}

// Back propagate the gradient of the loss with respect to the output
func (n *Network) Bprop(grad num.Array) {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Bprop(grad)
		if n.DebugLevel >= 3 && grad != nil {
			fmt.Printf("layer %d bprop output:\n%s", i, grad.String(n.queue))
		}
	}
}

// Loss calculates the masked mean squared error of the prediction and sets the gradient for back propagation.
// Returns the loss and number of target values used.
func (n *Network) Loss(yPred, y num.Array) (loss float64, count int) {
	res := make([]float32, 2)
	n.queue.Call(
		num.SquaredError(yPred, y, n.inputGrad, n.batchLoss, n.count),
		num.Read(n.batchLoss, res[:1]),
		num.Read(n.count, res[1:]),
	).Finish()
	return float64(res[0]), int(res[1])
}

// Predict returns the predicted key-points for a batch of inputs in inference mode
func (n *Network) Predict(input num.Array) []float32 {
	yPred := n.Fprop(input, false)
	res := make([]float32, yPred.Size())
	n.queue.Call(num.Read(yPred, res)).Finish()
	return res
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, truncate(layer.ToString(), 40), shape)
		shape = layer.OutShape()
	}
	return fmt.Sprintf("%s\n== Network ==\n%s\noutput %v params=%d", n.Config.configString(),
		strings.Join(s, "\n"), shape, n.NumParams())
}

// Print network weights
func (n *Network) PrintWeights() {
	for i, l := range n.ParamLayers() {
		W, B := l.Params()
		fmt.Printf("== Layer %d %s weights ==\n%s", i, l.Type(), W.String(n.queue))
		if B != nil {
			fmt.Printf("bias\n%s\n", B.String(n.queue))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// Set random number seed, or random seed if seed <= 0
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	return rand.New(rand.NewSource(seed))
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
