package num

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

const (
	gradStep = 1e-3
	gradTol  = 2e-2
)

var dev = NewDevice()

func randArray(rng *rand.Rand, size int, min, max float32) []float32 {
	v := make([]float32, size)
	for i := range v {
		v[i] = min + rng.Float32()*(max-min)
	}
	return v
}

func closeTo(a, b []float32, tol float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func TestConvFprop(t *testing.T) {
	q := dev.NewQueue(2)
	layer := dev.ConvLayer(1, 1, 3, 3, 1, 2, 1, 0, false)
	if s := layer.OutShape(); !reflect.DeepEqual(s, []int{2, 2, 1, 1}) {
		t.Fatal("out shape: got", s)
	}
	src := dev.NewArray(layer.InShape()...)
	W, dW := dev.NewArray(layer.FilterShape()...), dev.NewArray(layer.FilterShape()...)
	B, dB := dev.NewArray(layer.BiasShape()...), dev.NewArray(layer.BiasShape()...)
	layer.SetSrc(src)
	layer.SetParams(W, B, dW, dB)
	res := make([]float32, 4)
	q.Call(
		Write(src, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}),
		Fill(W, 1),
		Fill(B, 1),
		Fprop(layer, true),
		Read(layer.Dst(), res),
	).Finish()
	t.Logf("conv output\n%s", layer.Dst().String(q))
	expect := []float32{13, 17, 25, 29}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestPoolFprop(t *testing.T) {
	q := dev.NewQueue(1)
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i)
	}
	for _, average := range []bool{false, true} {
		layer := dev.PoolLayer([]int{4, 4, 1, 1}, 2, 2, average)
		src := dev.NewArray(layer.InShape()...)
		layer.SetSrc(src)
		res := make([]float32, 4)
		q.Call(
			Write(src, data),
			Fprop(layer, true),
			Read(layer.Dst(), res),
		).Finish()
		expect := []float32{5, 7, 13, 15}
		if average {
			expect = []float32{2.5, 4.5, 10.5, 12.5}
		}
		if !reflect.DeepEqual(res, expect) {
			t.Errorf("%s: got %v expect %v", layer.Type(), res, expect)
		}
	}
}

func TestUpsampleFprop(t *testing.T) {
	q := dev.NewQueue(1)
	layer := dev.UpsampleLayer([]int{2, 1, 1, 1}, 2)
	src := dev.NewArray(layer.InShape()...)
	layer.SetSrc(src)
	res := make([]float32, 8)
	q.Call(
		Write(src, []float32{1, 2}),
		Fprop(layer, false),
		Read(layer.Dst(), res),
	).Finish()
	expect := []float32{1, 1, 2, 2, 1, 1, 2, 2}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestSoftArgmaxFprop(t *testing.T) {
	q := dev.NewQueue(1)
	layer := dev.SoftArgmaxLayer([]int{3, 3, 2, 1})
	src := dev.NewArray(layer.InShape()...)
	data := make([]float32, 18)
	data[2+3*1] = 50   // point 0 at x=1, y=2
	data[9+0+3*2] = 50 // point 1 at x=2, y=0
	layer.SetSrc(src)
	res := make([]float32, 4)
	q.Call(
		Write(src, data),
		Fprop(layer, false),
		Read(layer.Dst(), res),
	).Finish()
	expect := []float32{1, 2, 2, 0}
	if !closeTo(res, expect, 1e-4) {
		t.Error("got", res, "expect", expect)
	}
}

func TestBatchNormInference(t *testing.T) {
	q := dev.NewQueue(1)
	layer := dev.BatchNormLayer([]int{2, 3})
	src := dev.NewArray(layer.InShape()...)
	W, dW := dev.NewArray(2), dev.NewArray(2)
	B, dB := dev.NewArray(2), dev.NewArray(2)
	layer.SetSrc(src)
	layer.SetParams(W, B, dW, dB)
	res := make([]float32, 6)
	q.Call(
		Write(src, []float32{1, 2, 3, 4, 5, 6}),
		Write(W, []float32{1, 2}),
		Write(B, []float32{0, 1}),
		Fprop(layer, false),
		Read(layer.Dst(), res),
	).Finish()
	scale := float32(1 / math.Sqrt(1+bnEpsilon))
	expect := []float32{scale, 4*scale + 1, 3 * scale, 8*scale + 1, 5 * scale, 12*scale + 1}
	if !closeTo(res, expect, 1e-5) {
		t.Error("got", res, "expect", expect)
	}
	// training mode updates the running statistics
	q.Call(Fprop(layer, true)).Finish()
	mean, _ := layer.Stats()
	expect = []float32{0.3, 0.4}
	if !closeTo(mean.Data(), expect, 1e-5) {
		t.Error("running mean: got", mean.Data(), "expect", expect)
	}
}

// test layer gradients against finite differences of loss = sum(dst * proj)
type gradTest struct {
	layer Layer
	src   Array
	W, B  Array
	dW    Array
	dB    Array
	proj  []float32
}

func newGradTest(rng *rand.Rand, layer Layer) *gradTest {
	g := &gradTest{layer: layer, src: dev.NewArray(layer.InShape()...)}
	copy(g.src.Data(), randArray(rng, g.src.Size(), -1, 1))
	layer.SetSrc(g.src)
	if layer.HasParams() {
		g.W, g.dW = dev.NewArray(layer.FilterShape()...), dev.NewArray(layer.FilterShape()...)
		copy(g.W.Data(), randArray(rng, g.W.Size(), -0.5, 0.5))
		if bs := layer.BiasShape(); bs != nil {
			g.B, g.dB = dev.NewArray(bs...), dev.NewArray(bs...)
			copy(g.B.Data(), randArray(rng, g.B.Size(), -0.5, 0.5))
		}
		layer.SetParams(g.W, g.B, g.dW, g.dB)
	}
	g.proj = randArray(rng, Prod(layer.OutShape()), -1, 1)
	diffDst := dev.NewArray(layer.OutShape()...)
	copy(diffDst.Data(), g.proj)
	layer.SetDiffDst(diffDst)
	return g
}

func (g *gradTest) loss(q Queue) float64 {
	q.Call(Fprop(g.layer, true)).Finish()
	var sum float64
	for i, v := range g.layer.Dst().Data() {
		sum += float64(v) * float64(g.proj[i])
	}
	return sum
}

func (g *gradTest) check(t *testing.T, q Queue, name string, x []float32, grad []float32) {
	for i := range x {
		save := x[i]
		x[i] = save + gradStep
		lossPlus := g.loss(q)
		x[i] = save - gradStep
		lossMinus := g.loss(q)
		x[i] = save
		numeric := (lossPlus - lossMinus) / (2 * gradStep)
		if diff := math.Abs(numeric - float64(grad[i])); diff > gradTol*(1+math.Abs(numeric)) {
			t.Errorf("%s %s grad[%d]: got %.5f numeric %.5f", g.layer.Type(), name, i, grad[i], numeric)
			return
		}
	}
}

func (g *gradTest) run(t *testing.T, q Queue) {
	g.loss(q)
	q.Call(BpropData(g.layer))
	if g.layer.HasParams() {
		q.Call(BpropFilter(g.layer))
		if g.B != nil {
			q.Call(BpropBias(g.layer))
		}
	}
	q.Finish()
	dSrc := append([]float32{}, g.layer.DiffSrc().Data()...)
	g.check(t, q, "data", g.src.Data(), dSrc)
	if g.layer.HasParams() {
		dW := append([]float32{}, g.dW.Data()...)
		g.check(t, q, "filter", g.W.Data(), dW)
		if g.B != nil {
			dB := append([]float32{}, g.dB.Data()...)
			g.check(t, q, "bias", g.B.Data(), dB)
		}
	}
}

func TestLayerGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := dev.NewQueue(3)
	layers := []Layer{
		dev.ConvLayer(2, 2, 5, 4, 3, 3, 1, 1, false),
		dev.ConvLayer(2, 2, 6, 6, 2, 3, 2, 0, true),
		dev.ConvLayer(3, 3, 4, 4, 2, 1, 1, 0, false),
		dev.PoolLayer([]int{4, 6, 2, 2}, 2, 2, false),
		dev.PoolLayer([]int{4, 6, 2, 2}, 2, 2, true),
		dev.BatchNormLayer([]int{3, 3, 2, 4}),
		dev.BatchNormLayer([]int{5, 6}),
		dev.ReluLayer([]int{3, 4}),
		dev.UpsampleLayer([]int{2, 3, 2, 2}, 2),
		dev.SoftArgmaxLayer([]int{4, 5, 3, 2}),
	}
	for _, layer := range layers {
		t.Logf("%s %v -> %v", layer.Type(), layer.InShape(), layer.OutShape())
		newGradTest(rng, layer).run(t, q)
	}
	q.Shutdown()
}

func BenchmarkConv(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	q := dev.NewQueue(0)
	layer := dev.ConvLayer(50, 16, 96, 96, 16, 3, 1, 1, true)
	g := newGradTest(rng, layer)
	for i := 0; i < b.N; i++ {
		q.Call(Fprop(layer, true), BpropData(layer), BpropFilter(layer)).Finish()
	}
	_ = g
}
