// Package num contains numeric Array processing routines such as optimised matix multiplication.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

func (t TransType) flip() blas.Transpose {
	if t == Trans {
		return blas.NoTrans
	}
	return blas.Trans
}

// Read data from array into a slice.
func Read(a Array, data []float32) Function {
	if len(data) < a.Size() {
		panic("Read: slice is too small")
	}
	return args("read", func(int) { copy(data, a.Data()) })
}

// Write data from a slice into the given array.
func Write(a Array, data []float32) Function {
	if len(data) < a.Size() {
		panic("Write: slice is too small")
	}
	return args("write", func(int) { copy(a.Data(), data[:a.Size()]) })
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return args("fill", func(int) {
		x := a.Data()
		for i := range x {
			x[i] = scalar
		}
	})
}

// Copy from src to dst, a vector is broadcast to each column of a matrix if needed.
func Copy(dst, src Array) Function {
	ddim, sdim := dst.Dims(), src.Dims()
	if SameShape(ddim, sdim) {
		return args("copy", func(int) { copy(dst.Data(), src.Data()) })
	}
	if len(sdim) == 1 && len(ddim) == 2 && sdim[0] == ddim[0] {
		return args("tile", func(int) {
			d, s := dst.Data(), src.Data()
			for col := 0; col < ddim[1]; col++ {
				copy(d[col*ddim[0]:(col+1)*ddim[0]], s)
			}
		})
	}
	panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", sdim, ddim))
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x Array) Function {
	return args("scale", func(int) {
		blas32.Scal(alpha, vector(x))
	})
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y Array) Function {
	if x.Size() != y.Size() {
		panic("Axpy: arrays must be same size")
	}
	return args("axpy", func(int) {
		blas32.Axpy(alpha, vector(x), vector(y))
	})
}

// Element wise addition: z <- x + y
func Add(x, y, z Array) Function {
	if x.Size() != z.Size() || y.Size() != z.Size() {
		panic("Add: arrays must be same size")
	}
	return args("add", func(int) {
		xd, yd, zd := x.Data(), y.Data(), z.Data()
		for i := range zd {
			zd[i] = xd[i] + yd[i]
		}
	})
}

// Calculate the scalar sum of the values in the array. Multiplies each result by scale.
func Sum(a, total Array, scale float32) Function {
	if total.Size() != 1 {
		panic("Sum: result should be a scalar")
	}
	return args("sum", func(int) {
		var sum float64
		for _, v := range a.Data() {
			sum += float64(v)
		}
		total.Data()[0] = float32(sum) * scale
	})
}

// Matrix vector multiplication: y <- alpha*dot(mA,x) + beta*y
func Gemv(alpha, beta float32, mA, x, y Array, aTrans TransType) Function {
	adim := mA.Dims()
	if len(adim) != 2 {
		panic("Gemv: must have matrix input")
	}
	m, n := adim[0], adim[1]
	if aTrans == Trans {
		m, n = n, m
	}
	if x.Size() != n || y.Size() != m {
		panic("Gemv: incorrect vector size")
	}
	return args("gemv", func(int) {
		blas32.Gemv(aTrans.flip(), alpha, general(mA), vector(x), beta, vector(y))
	})
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC Array, aTrans, bTrans TransType) Function {
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	// column major C = A.B is row major C' = B'.A'
	return args("gemm", func(int) {
		blas32.Gemm(bTrans.blas(), aTrans.blas(), alpha, general(mB), general(mA), beta, general(mC))
	})
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y Array) Function {
	return unaryFunc("relu", x, y, func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	})
}

// ReluD sets y to grad where x > 0 else 0
func ReluD(x, grad, y Array) Function {
	return binaryFunc("relu_d", x, grad, y, func(x, g float32) float32 {
		if x > 0 {
			return g
		}
		return 0
	})
}

// SquaredError computes the mean squared error of yPred versus y over the entries of y which are
// not NaN, sets loss to the scalar loss and grad to its derivative with respect to yPred.
// Missing entries contribute zero gradient. Count is set to the number of entries used.
func SquaredError(yPred, y, grad, loss, count Array) Function {
	if !SameShape(yPred.Dims(), y.Dims()) || !SameShape(y.Dims(), grad.Dims()) {
		panic("SquaredError: arrays must be same shape")
	}
	return args("squared_error", func(int) {
		p, t, g := yPred.Data(), y.Data(), grad.Data()
		var sum float64
		n := 0
		for i := range t {
			if isNaN(t[i]) {
				continue
			}
			d := float64(p[i] - t[i])
			sum += d * d
			n++
		}
		scale := float32(0)
		if n > 0 {
			sum /= float64(n)
			scale = 2 / float32(n)
		}
		for i := range t {
			if isNaN(t[i]) {
				g[i] = 0
			} else {
				g[i] = scale * (p[i] - t[i])
			}
		}
		loss.Data()[0] = float32(sum)
		count.Data()[0] = float32(n)
	})
}

// PointDistance accumulates the euclidean distance between predicted and actual (x, y) pairs.
// Arrays are [2*points, batch], pairs where either coordinate of y is NaN are skipped.
// The sum of distances is added to total and the number of points to count.
func PointDistance(yPred, y, total, count Array) Function {
	if !SameShape(yPred.Dims(), y.Dims()) || y.Dims()[0]%2 != 0 {
		panic("PointDistance: invalid array shape")
	}
	return args("point_distance", func(int) {
		p, t := yPred.Data(), y.Data()
		var sum float64
		n := 0
		for i := 0; i+1 < len(t); i += 2 {
			if isNaN(t[i]) || isNaN(t[i+1]) {
				continue
			}
			dx, dy := float64(p[i]-t[i]), float64(p[i+1]-t[i+1])
			sum += math.Sqrt(dx*dx + dy*dy)
			n++
		}
		total.Data()[0] += float32(sum)
		count.Data()[0] += float32(n)
	})
}

// Adam optimiser update step t (from 1) for weights w with gradient dw, m and v hold the first and second
// moment estimates.
func Adam(w, dw, m, v Array, t int, eta, beta1, beta2, epsilon float32) Function {
	if w.Size() != dw.Size() || w.Size() != m.Size() || w.Size() != v.Size() {
		panic("Adam: arrays must be same size")
	}
	return args("adam", func(int) {
		c1 := 1 - float32(math.Pow(float64(beta1), float64(t)))
		c2 := 1 - float32(math.Pow(float64(beta2), float64(t)))
		wd, gd, md, vd := w.Data(), dw.Data(), m.Data(), v.Data()
		for i, g := range gd {
			md[i] = beta1*md[i] + (1-beta1)*g
			vd[i] = beta2*vd[i] + (1-beta2)*g*g
			mHat := md[i] / c1
			vHat := vd[i] / c2
			wd[i] -= eta * mHat / (float32(math.Sqrt(float64(vHat))) + epsilon)
		}
	})
}

func unaryFunc(desc string, x, y Array, fn func(float32) float32) Function {
	if !SameShape(x.Dims(), y.Dims()) {
		panic("UnaryFunc: arrays must be same shape")
	}
	return args(desc, func(int) {
		xd, yd := x.Data(), y.Data()
		for i, v := range xd {
			yd[i] = fn(v)
		}
	})
}

func binaryFunc(desc string, x, y, z Array, fn func(x, y float32) float32) Function {
	if !SameShape(x.Dims(), z.Dims()) || !SameShape(y.Dims(), z.Dims()) {
		panic("BinaryFunc: arrays must be same shape")
	}
	return args(desc, func(int) {
		xd, yd, zd := x.Data(), y.Data(), z.Data()
		for i := range zd {
			zd[i] = fn(xd[i], yd[i])
		}
	})
}

// row major view of column major matrix, i.e. the transpose.
func general(a Array) blas32.General {
	dims := a.Dims()
	return blas32.General{Rows: dims[1], Cols: dims[0], Stride: dims[0], Data: a.Data()}
}

func vector(a Array) blas32.Vector {
	return blas32.Vector{N: a.Size(), Inc: 1, Data: a.Data()}
}

func isNaN(x float32) bool {
	return x != x
}
