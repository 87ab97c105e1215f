package nnet

import (
	"math"
	"math/rand"
	"testing"

	"github.com/migonch/mesh-detection/num"
)

const (
	batch = 3
	nIn   = 4
	nOut  = 2
	eps   = 1e-5
)

var dev = num.NewDevice()

func abs(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

func randArray(rng *rand.Rand, size int, min, max float32) []float32 {
	v := make([]float32, size)
	for i := range v {
		v[i] = min + rng.Float32()*(max-min)
	}
	return v
}

func compareArray(t *testing.T, q num.Queue, title string, A num.Array, expect []float32) {
	t.Logf("== %s ==\n%s", title, A.String(q))
	arr := make([]float32, A.Size())
	q.Call(num.Read(A, arr)).Finish()
	if len(arr) != len(expect) {
		t.Fatal(title, "length mismatch!")
	}
	for i := range arr {
		if abs(arr[i]-expect[i]) > eps {
			t.Errorf("%s mismatch at %d: got %.5f expect %.5f", title, i, arr[i], expect[i])
			return
		}
	}
}

func setupLinear(t *testing.T, q num.Queue, rng *rand.Rand) (l *linear, input num.Array, w, b, x []float32) {
	l = &linear{Linear: Linear{Nout: nOut}}
	l.Init(q, []int{nIn, batch})
	input = q.NewArray(nIn, batch)
	w = randArray(rng, nIn*nOut, -0.5, 0.5)
	b = randArray(rng, nOut, 0.1, 0.2)
	x = randArray(rng, nIn*batch, 0, 1)
	q.Call(
		num.Write(l.w, w),
		num.Write(l.b, b),
		num.Write(input, x),
	)
	return
}

func TestLinearFprop(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := dev.NewQueue(1)
	l, input, w, b, x := setupLinear(t, q, rng)
	expect := make([]float32, nOut*batch)
	for n := 0; n < batch; n++ {
		for o := 0; o < nOut; o++ {
			sum := b[o]
			for i := 0; i < nIn; i++ {
				sum += w[o+nOut*i] * x[i+nIn*n]
			}
			expect[o+nOut*n] = sum
		}
	}
	compareArray(t, q, "linear output", l.Fprop(input, true), expect)
}

func TestLinearBprop(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := dev.NewQueue(1)
	l, input, w, _, x := setupLinear(t, q, rng)
	l.Fprop(input, true)
	g := randArray(rng, nOut*batch, -1, 1)
	grad := q.NewArray(nOut, batch)
	q.Call(num.Write(grad, g))
	dsrc := l.Bprop(grad)
	expectDB := make([]float32, nOut)
	expectDW := make([]float32, nOut*nIn)
	expectDX := make([]float32, nIn*batch)
	for n := 0; n < batch; n++ {
		for o := 0; o < nOut; o++ {
			expectDB[o] += g[o+nOut*n]
			for i := 0; i < nIn; i++ {
				expectDW[o+nOut*i] += g[o+nOut*n] * x[i+nIn*n]
				expectDX[i+nIn*n] += w[o+nOut*i] * g[o+nOut*n]
			}
		}
	}
	compareArray(t, q, "bias grad", l.db, expectDB)
	compareArray(t, q, "weight grad", l.dw, expectDW)
	compareArray(t, q, "input grad", dsrc, expectDX)
}

func TestAddLayer(t *testing.T) {
	q := dev.NewQueue(1)
	l := AddLayer([]ConfigLayer{Activation{Atype: "relu"}}, nil).Marshal().Unmarshal()
	l.Init(q, []int{2, 2})
	input := q.NewArray(2, 2)
	q.Call(num.Write(input, []float32{-1, 2, 3, -4}))
	compareArray(t, q, "add output", l.Fprop(input, true), []float32{-1, 4, 6, -4})
	grad := q.NewArray(2, 2)
	q.Call(num.Write(grad, []float32{1, 1, 1, 1}))
	compareArray(t, q, "add input grad", l.Bprop(grad), []float32{1, 2, 2, 1})
	if c, ok := l.(CompoundLayer); !ok || len(c.Sublayers()) != 1 {
		t.Error("expecting compound layer with one sublayer")
	}
}

func TestFlatten(t *testing.T) {
	q := dev.NewQueue(1)
	l := Flatten{}.Marshal().Unmarshal()
	l.Init(q, []int{2, 2, 3, batch})
	input := q.NewArray(2, 2, 3, batch)
	out := l.Fprop(input, true)
	if d := out.Dims(); d[0] != 12 || d[1] != batch {
		t.Error("got shape", d)
	}
	if d := l.Bprop(out).Dims(); len(d) != 4 {
		t.Error("got grad shape", d)
	}
}

// small network with each of the layer types used by the model
func testNetwork(q num.Queue, head string, rng *rand.Rand) *Network {
	conf := DefaultConfig()
	conf = conf.AddLayers(
		Conv{Nfeats: 3, Size: 3, Pad: true},
		ResBlock(3, 4),
		ResBlock(4, 4),
		BatchNorm{},
		Activation{Atype: "relu"},
	)
	if head == DenseHead {
		conf = conf.AddLayers(Pool{Size: 2, Average: true}, Flatten{}, Linear{Nout: 4})
	} else {
		conf = conf.AddLayers(Conv{Nfeats: 2, Size: 1}, SoftArgmax{})
	}
	net := New(q, conf, batch, []int{4, 4, 1})
	net.InitWeights(rng)
	q.Finish()
	return net
}

func TestNetworkGradient(t *testing.T) {
	for _, head := range []string{DenseHead, HeatmapHead} {
		rng := rand.New(rand.NewSource(1))
		q := dev.NewQueue(2)
		net := testNetwork(q, head, rng)
		t.Logf("%s network\n%s", head, net)
		input := q.NewArray(net.InShape()...)
		target := q.NewArray(net.OutShape()...)
		y := randArray(rng, target.Size(), 0, 3)
		y[1] = float32(math.NaN())
		q.Call(
			num.Write(input, randArray(rng, input.Size(), -1, 1)),
			num.Write(target, y),
		)
		loss := func() float64 {
			l, _ := net.Loss(net.Fprop(input, true), target)
			return l
		}
		loss()
		net.Bprop(net.inputGrad)
		q.Finish()
		layers := net.ParamLayers()
		for _, ix := range []int{0, len(layers) - 1} {
			W, _ := layers[ix].Params()
			dW, _ := layers[ix].ParamGrads()
			grad := append([]float32{}, dW.Data()...)
			w := W.Data()
			for i := 0; i < len(w) && i < 5; i++ {
				const h = 1e-3
				save := w[i]
				w[i] = save + h
				lossPlus := loss()
				w[i] = save - h
				lossMinus := loss()
				w[i] = save
				numeric := (lossPlus - lossMinus) / (2 * h)
				if diff := math.Abs(numeric - float64(grad[i])); diff > 0.02+0.1*math.Abs(numeric) {
					t.Errorf("%s layer %d %s grad[%d]: got %.5f numeric %.5f", head, ix, layers[ix].Type(), i, grad[i], numeric)
				}
			}
		}
	}
}

func TestCopyTo(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	q := dev.NewQueue(1)
	net1 := testNetwork(q, HeatmapHead, rng)
	net2 := testNetwork(q, HeatmapHead, rng)
	net1.CopyTo(net2)
	p1, p2 := net1.ParamLayers(), net2.ParamLayers()
	for i := range p1 {
		W1, _ := p1[i].Params()
		W2, _ := p2[i].Params()
		compareArray(t, q, "weights", W2, W1.Data())
	}
}
