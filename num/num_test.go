package num

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestArray(t *testing.T) {
	xd := []float32{1, 1, 2, 2, 3, 3}
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(6)
	x = x.Reshape(2, -1)
	if dim := x.Dims(); !reflect.DeepEqual(dim, []int{2, 3}) {
		t.Error("dims invalid: got", dim)
	}
	res := make([]float32, 6)
	q.Call(
		Write(x, xd),
		Read(x, res),
	).Finish()
	if !reflect.DeepEqual(res, xd) {
		t.Error("got", res, "expect", xd)
	}
	t.Logf("x\n%s", x.String(q))
	expect := []float32{4, 4, 4, 4, 4, 4}
	q.Call(
		Fill(x, 2),
		Scale(2, x),
		Read(x, res),
	).Finish()
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestCopy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	y := dev.NewArray(2)
	res := make([]float32, 6)
	q.Call(
		Write(y, []float32{1, 2}),
		Copy(x, y),
		Read(x, res),
	).Finish()
	expect := []float32{1, 2, 1, 2, 1, 2}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestAxpy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	y := dev.NewArray(2, 3)
	z := dev.NewArray(2, 3)
	res := make([]float32, 6)
	q.Call(
		Write(x, []float32{1, 1, 2, 2, 3, 3}),
		Write(y, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}),
		Axpy(2, x, y),
		Read(y, res),
	).Finish()
	expect := []float32{2.5, 2.5, 4.5, 4.5, 6.5, 6.5}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
	q.Call(
		Add(x, y, z),
		Read(z, res),
	).Finish()
	expect = []float32{3.5, 3.5, 6.5, 6.5, 9.5, 9.5}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestSum(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	sum := dev.NewArray()
	res := make([]float32, 1)
	// scalar sum
	q.Call(
		Write(x, []float32{1, 2, 3, 4, 5, 6}),
		Sum(x, sum, 1.0/6.0),
		Read(sum, res),
	).Finish()
	if res[0] != 3.5 {
		t.Error("got", res[0], "expect", 3.5)
	}
	// sum for each column
	sum = dev.NewArray(3)
	res = make([]float32, 3)
	ones := dev.NewArray(2)
	q.Call(
		Fill(ones, 1),
		Gemv(1, 0, x, ones, sum, Trans),
		Read(sum, res),
	).Finish()
	expect := []float32{3, 7, 11}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
	// sum for each row
	sum = dev.NewArray(2)
	res = make([]float32, 2)
	ones = dev.NewArray(3)
	q.Call(
		Fill(ones, 1),
		Gemv(1, 0, x, ones, sum, NoTrans),
		Read(sum, res),
	).Finish()
	expect = []float32{9, 12}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestGemm(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	y := dev.NewArray(3, 2)
	z := dev.NewArray(2, 2)
	q.Call(Write(x, []float32{1, 4, 2, 5, 3, 6}))
	res := make([]float32, 4)
	for _, trans := range []TransType{NoTrans, Trans} {
		if trans == Trans {
			y = y.Reshape(2, 3)
			q.Call(Write(y, []float32{7, 8, 9, 10, 11, 12}))
		} else {
			q.Call(Write(y, []float32{7, 9, 11, 8, 10, 12}))
		}
		q.Call(
			Gemm(1, 0, x, y, z, NoTrans, trans),
			Read(z, res),
		).Finish()
		expect := []float32{58, 139, 64, 154}
		if !reflect.DeepEqual(res, expect) {
			t.Error("got", res, "expect", expect)
		}
	}
}

func TestSquaredError(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	nan := float32(math.NaN())
	yPred, y := dev.NewArray(2, 2), dev.NewArray(2, 2)
	grad := dev.NewArrayLike(y)
	loss, count := dev.NewArray(), dev.NewArray()
	res := make([]float32, 4)
	var lossVal, countVal [1]float32
	q.Call(
		Write(yPred, []float32{1, 2, 3, 4}),
		Write(y, []float32{1, nan, 5, 4}),
		SquaredError(yPred, y, grad, loss, count),
		Read(grad, res),
		Read(loss, lossVal[:]),
		Read(count, countVal[:]),
	).Finish()
	if countVal[0] != 3 {
		t.Error("count: got", countVal[0], "expect", 3)
	}
	if abs(lossVal[0]-4.0/3.0) > 1e-6 {
		t.Error("loss: got", lossVal[0], "expect", 4.0/3.0)
	}
	expect := []float32{0, 0, -4.0 / 3.0, 0}
	for i := range res {
		if abs(res[i]-expect[i]) > 1e-6 {
			t.Error("grad: got", res, "expect", expect)
			break
		}
	}
}

func TestPointDistance(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	nan := float32(math.NaN())
	yPred, y := dev.NewArray(6, 1), dev.NewArray(6, 1)
	total, count := dev.NewArray(), dev.NewArray()
	res := make([]float32, 2)
	q.Call(
		Write(yPred, []float32{0, 0, 3, 4, 1, 1}),
		Write(y, []float32{0, 0, 0, 0, nan, 1}),
		Fill(total, 0),
		Fill(count, 0),
		PointDistance(yPred, y, total, count),
		PointDistance(yPred, y, total, count),
		Read(total, res[:1]),
		Read(count, res[1:]),
	).Finish()
	if !reflect.DeepEqual(res, []float32{10, 4}) {
		t.Error("got", res, "expect", []float32{10, 4})
	}
}

func TestAdam(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	w, dw := dev.NewArray(2), dev.NewArray(2)
	m, v := dev.NewArray(2), dev.NewArray(2)
	res := make([]float32, 2)
	q.Call(
		Write(w, []float32{1, 1}),
		Write(dw, []float32{2, -0.5}),
		Adam(w, dw, m, v, 1, 0.1, 0.9, 0.999, 1e-8),
		Read(w, res),
	).Finish()
	// first step moves each weight by eta against the sign of the gradient
	expect := []float32{0.9, 1.1}
	for i := range res {
		if abs(res[i]-expect[i]) > 1e-5 {
			t.Error("got", res, "expect", expect)
			break
		}
	}
}

func TestParallel(t *testing.T) {
	for _, threads := range []int{1, 3, 8} {
		seen := make([]int, 10)
		worker := make([]int, 10)
		parallel(10, threads, func(w, i int) {
			seen[i]++
			worker[i] = w
		})
		for i := range seen {
			if seen[i] != 1 {
				t.Errorf("threads=%d index %d called %d times", threads, i, seen[i])
			}
			if threads <= 10 && worker[i] != i%threads {
				t.Errorf("threads=%d index %d ran on worker %d", threads, i, worker[i])
			}
		}
	}
}

func TestProfile(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	q.Profiling(true, "test")
	x := dev.NewArray(4)
	q.Call(Fill(x, 1), Scale(2, x)).Finish()
	p := q.Profile()
	t.Log(p)
	if len(p) == 0 {
		t.Error("expected profile output")
	}
}

func randSlice(n int) []float32 {
	res := make([]float32, n)
	for i := range res {
		res[i] = float32(rand.Intn(20))
	}
	return res
}

func BenchmarkGemm(b *testing.B) {
	size := 100
	dev := NewDevice()
	q := dev.NewQueue(4)
	x := dev.NewArray(size, size)
	y := dev.NewArray(size, size)
	z := dev.NewArray(size, size)
	q.Call(
		Write(x, randSlice(size*size)),
		Write(y, randSlice(size*size)),
	).Finish()
	for i := 0; i < b.N; i++ {
		q.Call(Gemm(1, 0, x, y, z, NoTrans, NoTrans)).Finish()
	}
}
