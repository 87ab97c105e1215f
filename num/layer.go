package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	bnMomentum = 0.1
	bnEpsilon  = 1e-5
)

// Layer interface type represents a DNN layer. Image data is stored with dimensions
// [height, width, channels, batch] in column major order.
type Layer interface {
	Type() string
	InShape() []int
	OutShape() []int
	FilterShape() []int
	BiasShape() []int
	HasParams() bool
	Dst() Array
	DiffSrc() Array
	SetSrc(Array)
	SetDiffDst(Array)
	SetParams(W, B, dW, dB Array)
	fprop(threads int, trainMode bool)
	bpropData(threads int)
	bpropFilter(threads int)
	bpropBias(threads int)
}

// BatchNorm layer also tracks the running mean and variance used for inference
type BatchNorm interface {
	Layer
	Stats() (runMean, runVar Array)
}

// Forward propagation
func Fprop(layer Layer, trainMode bool) Function {
	return args(layer.Type()+"_fprop", func(threads int) { layer.fprop(threads, trainMode) })
}

// Backward propagation
func BpropData(layer Layer) Function {
	return args(layer.Type()+"_bprop_data", layer.bpropData)
}

func BpropFilter(layer Layer) Function {
	return args(layer.Type()+"_bprop_filter", layer.bpropFilter)
}

func BpropBias(layer Layer) Function {
	return args(layer.Type()+"_bprop_bias", layer.bpropBias)
}

// common layer functions
type layerBase struct {
	typ      string
	inShape  []int
	outShape []int
	src      Array
	dst      Array
	diffSrc  Array
	diffDst  Array
}

func newLayerBase(typ string, inShape, outShape []int) layerBase {
	return layerBase{
		typ:      typ,
		inShape:  inShape,
		outShape: outShape,
		dst:      newArrayCPU(outShape, make([]float32, Prod(outShape))),
		diffSrc:  newArrayCPU(inShape, make([]float32, Prod(inShape))),
	}
}

func (l *layerBase) Type() string { return l.typ }

func (l *layerBase) InShape() []int { return l.inShape }

func (l *layerBase) OutShape() []int { return l.outShape }

func (l *layerBase) FilterShape() []int { return nil }

func (l *layerBase) BiasShape() []int { return nil }

func (l *layerBase) HasParams() bool { return false }

func (l *layerBase) Dst() Array { return l.dst }

func (l *layerBase) DiffSrc() Array { return l.diffSrc }

func (l *layerBase) SetSrc(a Array) {
	if a.Size() != Prod(l.inShape) {
		panic(fmt.Sprintf("%s: input size %v does not match %v", l.typ, a.Dims(), l.inShape))
	}
	l.src = a
}

func (l *layerBase) SetDiffDst(a Array) {
	if a.Size() != Prod(l.outShape) {
		panic(fmt.Sprintf("%s: gradient size %v does not match %v", l.typ, a.Dims(), l.outShape))
	}
	l.diffDst = a
}

func (l *layerBase) SetParams(W, B, dW, dB Array) {
	panic(l.typ + ": layer has no parameters")
}

func (l *layerBase) bpropFilter(threads int) {}

func (l *layerBase) bpropBias(threads int) {}

// image dims of [height, width, channels, batch]
func (l *layerBase) dims() (h, w, c, n int) {
	if len(l.inShape) != 4 {
		panic(l.typ + ": expect 4 dimensional input")
	}
	return l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
}

// weight and bias parameters
type paramBase struct {
	w, b   Array
	dw, db Array
}

func (p *paramBase) setParams(l *layerBase, W, B, dW, dB Array, wShape, bShape []int) {
	if W.Size() != Prod(wShape) || dW.Size() != Prod(wShape) {
		panic(fmt.Sprintf("%s: weights should have shape %v", l.typ, wShape))
	}
	if bShape != nil && (B == nil || B.Size() != Prod(bShape) || dB.Size() != Prod(bShape)) {
		panic(fmt.Sprintf("%s: bias should have shape %v", l.typ, bShape))
	}
	p.w, p.b, p.dw, p.db = W, B, dW, dB
}

// convolution layer using im2col plus matrix multiply per sample
type convLayer struct {
	layerBase
	paramBase
	nFeats int
	size   int
	stride int
	pad    int
	noBias bool
	col    [][]float32
	dcol   [][]float32
	dwPart [][]float32
}

func (d cpuDevice) ConvLayer(nBatch, depth, h, w, nFeats, size, stride, pad int, noBias bool) Layer {
	if stride < 1 {
		stride = 1
	}
	oh := (h+2*pad-size)/stride + 1
	ow := (w+2*pad-size)/stride + 1
	if oh < 1 || ow < 1 {
		panic(fmt.Sprintf("ConvLayer: filter size %d too large for %dx%d input", size, h, w))
	}
	return &convLayer{
		layerBase: newLayerBase("conv", []int{h, w, depth, nBatch}, []int{oh, ow, nFeats, nBatch}),
		nFeats:    nFeats,
		size:      size,
		stride:    stride,
		pad:       pad,
		noBias:    noBias,
	}
}

func (l *convLayer) FilterShape() []int {
	return []int{l.size, l.size, l.inShape[2], l.nFeats}
}

func (l *convLayer) BiasShape() []int {
	if l.noBias {
		return nil
	}
	return []int{l.nFeats}
}

func (l *convLayer) HasParams() bool { return true }

func (l *convLayer) SetParams(W, B, dW, dB Array) {
	l.setParams(&l.layerBase, W, B, dW, dB, l.FilterShape(), l.BiasShape())
}

// rows and columns of the unrolled input matrix
func (l *convLayer) colShape() (k, p int) {
	return l.inShape[2] * l.size * l.size, l.outShape[0] * l.outShape[1]
}

func (l *convLayer) buffers(threads int) {
	k, p := l.colShape()
	for len(l.col) < threads {
		l.col = append(l.col, make([]float32, k*p))
		l.dcol = append(l.dcol, make([]float32, k*p))
		l.dwPart = append(l.dwPart, make([]float32, l.nFeats*k))
	}
}

// unroll input patches: row (c*size+kx)*size+ky, column oy+oh*ox
func (l *convLayer) im2col(in, col []float32, accumulate bool) {
	h, w, c, _ := l.dims()
	oh, ow := l.outShape[0], l.outShape[1]
	_, p := l.colShape()
	k := l.size
	for ci := 0; ci < c; ci++ {
		plane := in[ci*h*w : (ci+1)*h*w]
		for kx := 0; kx < k; kx++ {
			for ky := 0; ky < k; ky++ {
				row := col[((ci*k+kx)*k+ky)*p:]
				for ox := 0; ox < ow; ox++ {
					ix := ox*l.stride - l.pad + kx
					for oy := 0; oy < oh; oy++ {
						iy := oy*l.stride - l.pad + ky
						valid := ix >= 0 && ix < w && iy >= 0 && iy < h
						switch {
						case accumulate && valid:
							plane[iy+h*ix] += row[oy+oh*ox]
						case accumulate:
						case valid:
							row[oy+oh*ox] = plane[iy+h*ix]
						default:
							row[oy+oh*ox] = 0
						}
					}
				}
			}
		}
	}
}

func (l *convLayer) fprop(threads int, trainMode bool) {
	_, _, _, n := l.dims()
	l.buffers(threads)
	k, p := l.colShape()
	inSize, outSize := Prod(l.inShape[:3]), Prod(l.outShape[:3])
	src, dst := l.src.Data(), l.dst.Data()
	W := blas32.General{Rows: l.nFeats, Cols: k, Stride: k, Data: l.w.Data()}
	parallel(n, threads, func(worker, s int) {
		col := l.col[worker]
		l.im2col(src[s*inSize:(s+1)*inSize], col, false)
		out := dst[s*outSize : (s+1)*outSize]
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, W,
			blas32.General{Rows: k, Cols: p, Stride: p, Data: col}, 0,
			blas32.General{Rows: l.nFeats, Cols: p, Stride: p, Data: out})
		if !l.noBias {
			bias := l.b.Data()
			for o := 0; o < l.nFeats; o++ {
				row := out[o*p : (o+1)*p]
				for i := range row {
					row[i] += bias[o]
				}
			}
		}
	})
}

func (l *convLayer) bpropData(threads int) {
	_, _, _, n := l.dims()
	l.buffers(threads)
	k, p := l.colShape()
	inSize, outSize := Prod(l.inShape[:3]), Prod(l.outShape[:3])
	dIn, dOut := l.diffSrc.Data(), l.diffDst.Data()
	W := blas32.General{Rows: l.nFeats, Cols: k, Stride: k, Data: l.w.Data()}
	parallel(n, threads, func(worker, s int) {
		dcol := l.dcol[worker]
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, W,
			blas32.General{Rows: l.nFeats, Cols: p, Stride: p, Data: dOut[s*outSize : (s+1)*outSize]}, 0,
			blas32.General{Rows: k, Cols: p, Stride: p, Data: dcol})
		in := dIn[s*inSize : (s+1)*inSize]
		for i := range in {
			in[i] = 0
		}
		l.im2col(in, dcol, true)
	})
}

func (l *convLayer) bpropFilter(threads int) {
	_, _, _, n := l.dims()
	l.buffers(threads)
	k, p := l.colShape()
	inSize, outSize := Prod(l.inShape[:3]), Prod(l.outShape[:3])
	src, dOut := l.src.Data(), l.diffDst.Data()
	for _, part := range l.dwPart {
		for i := range part {
			part[i] = 0
		}
	}
	parallel(n, threads, func(worker, s int) {
		col := l.col[worker]
		l.im2col(src[s*inSize:(s+1)*inSize], col, false)
		blas32.Gemm(blas.NoTrans, blas.Trans, 1,
			blas32.General{Rows: l.nFeats, Cols: p, Stride: p, Data: dOut[s*outSize : (s+1)*outSize]},
			blas32.General{Rows: k, Cols: p, Stride: p, Data: col}, 1,
			blas32.General{Rows: l.nFeats, Cols: k, Stride: k, Data: l.dwPart[worker]})
	})
	dw := l.dw.Data()
	copy(dw, l.dwPart[0])
	for _, part := range l.dwPart[1:] {
		for i, v := range part {
			dw[i] += v
		}
	}
}

func (l *convLayer) bpropBias(threads int) {
	if l.noBias {
		return
	}
	_, _, _, n := l.dims()
	_, p := l.colShape()
	dOut, db := l.diffDst.Data(), l.db.Data()
	for o := range db {
		var sum float32
		for s := 0; s < n; s++ {
			base := (s*l.nFeats + o) * p
			for _, v := range dOut[base : base+p] {
				sum += v
			}
		}
		db[o] = sum
	}
}

// max or average pooling layer
type poolLayer struct {
	layerBase
	size    int
	stride  int
	average bool
	index   []int32
}

func (d cpuDevice) PoolLayer(inShape []int, size, stride int, average bool) Layer {
	if len(inShape) != 4 {
		panic("PoolLayer: expect 4 dimensional input")
	}
	if stride < 1 {
		stride = size
	}
	h, w, c, n := inShape[0], inShape[1], inShape[2], inShape[3]
	oh, ow := (h-size)/stride+1, (w-size)/stride+1
	if oh < 1 || ow < 1 {
		panic(fmt.Sprintf("PoolLayer: size %d too large for %dx%d input", size, h, w))
	}
	l := &poolLayer{
		layerBase: newLayerBase("maxPool", inShape, []int{oh, ow, c, n}),
		size:      size,
		stride:    stride,
		average:   average,
	}
	if average {
		l.typ = "avgPool"
	} else {
		l.index = make([]int32, Prod(l.outShape))
	}
	return l
}

func (l *poolLayer) fprop(threads int, trainMode bool) {
	h, w, c, n := l.dims()
	oh, ow := l.outShape[0], l.outShape[1]
	src, dst := l.src.Data(), l.dst.Data()
	scale := 1 / float32(l.size*l.size)
	parallel(n*c, threads, func(worker, plane int) {
		in := src[plane*h*w : (plane+1)*h*w]
		outBase := plane * oh * ow
		for ox := 0; ox < ow; ox++ {
			for oy := 0; oy < oh; oy++ {
				out := outBase + oy + oh*ox
				best, bestIx := float32(math.Inf(-1)), 0
				var sum float32
				for kx := 0; kx < l.size; kx++ {
					for ky := 0; ky < l.size; ky++ {
						ix := oy*l.stride + ky + h*(ox*l.stride+kx)
						sum += in[ix]
						if in[ix] > best {
							best, bestIx = in[ix], ix
						}
					}
				}
				if l.average {
					dst[out] = sum * scale
				} else {
					dst[out] = best
					l.index[out] = int32(plane*h*w + bestIx)
				}
			}
		}
	})
}

func (l *poolLayer) bpropData(threads int) {
	h, w, c, n := l.dims()
	oh, ow := l.outShape[0], l.outShape[1]
	dIn, dOut := l.diffSrc.Data(), l.diffDst.Data()
	scale := 1 / float32(l.size*l.size)
	parallel(n*c, threads, func(worker, plane int) {
		in := dIn[plane*h*w : (plane+1)*h*w]
		for i := range in {
			in[i] = 0
		}
		outBase := plane * oh * ow
		for ox := 0; ox < ow; ox++ {
			for oy := 0; oy < oh; oy++ {
				out := outBase + oy + oh*ox
				if !l.average {
					dIn[l.index[out]] += dOut[out]
					continue
				}
				g := dOut[out] * scale
				for kx := 0; kx < l.size; kx++ {
					for ky := 0; ky < l.size; ky++ {
						in[oy*l.stride+ky+h*(ox*l.stride+kx)] += g
					}
				}
			}
		}
	})
}

// batch normalisation over all but the channel dimension, input is [height, width, channels, batch] or [channels, batch]
type batchNormLayer struct {
	layerBase
	paramBase
	runMean Array
	runVar  Array
	mean    []float32
	invStd  []float32
}

func (d cpuDevice) BatchNormLayer(inShape []int) BatchNorm {
	if len(inShape) != 4 && len(inShape) != 2 {
		panic("BatchNormLayer: expect 2 or 4 dimensional input")
	}
	c := inShape[len(inShape)-2]
	l := &batchNormLayer{
		layerBase: newLayerBase("batchNorm", inShape, inShape),
		runMean:   newArrayCPU([]int{c}, make([]float32, c)),
		runVar:    newArrayCPU([]int{c}, make([]float32, c)),
		mean:      make([]float32, c),
		invStd:    make([]float32, c),
	}
	for i := range l.runVar.Data() {
		l.runVar.Data()[i] = 1
	}
	return l
}

func (l *batchNormLayer) FilterShape() []int { return []int{l.channels()} }

func (l *batchNormLayer) BiasShape() []int { return []int{l.channels()} }

func (l *batchNormLayer) HasParams() bool { return true }

func (l *batchNormLayer) SetParams(W, B, dW, dB Array) {
	l.setParams(&l.layerBase, W, B, dW, dB, l.FilterShape(), l.BiasShape())
}

func (l *batchNormLayer) Stats() (runMean, runVar Array) {
	return l.runMean, l.runVar
}

func (l *batchNormLayer) channels() int {
	return l.inShape[len(l.inShape)-2]
}

// calls fn with the slice of data for each sample of the given channel
func (l *batchNormLayer) each(data []float32, ch int, fn func(x []float32, s int)) {
	dims := len(l.inShape)
	spatial := Prod(l.inShape[:dims-2])
	c, n := l.inShape[dims-2], l.inShape[dims-1]
	for s := 0; s < n; s++ {
		base := spatial * (ch + c*s)
		fn(data[base:base+spatial], s)
	}
}

func (l *batchNormLayer) count() float64 {
	return float64(Prod(l.inShape) / l.channels())
}

func (l *batchNormLayer) fprop(threads int, trainMode bool) {
	src, dst := l.src.Data(), l.dst.Data()
	gamma, beta := l.w.Data(), l.b.Data()
	runMean, runVar := l.runMean.Data(), l.runVar.Data()
	count := l.count()
	parallel(l.channels(), threads, func(worker, ch int) {
		mean, variance := float64(runMean[ch]), float64(runVar[ch])
		if trainMode {
			var sum, sum2 float64
			l.each(src, ch, func(x []float32, s int) {
				for _, v := range x {
					sum += float64(v)
				}
			})
			mean = sum / count
			l.each(src, ch, func(x []float32, s int) {
				for _, v := range x {
					d := float64(v) - mean
					sum2 += d * d
				}
			})
			variance = sum2 / count
			unbiased := variance
			if count > 1 {
				unbiased = sum2 / (count - 1)
			}
			runMean[ch] = float32((1-bnMomentum)*float64(runMean[ch]) + bnMomentum*mean)
			runVar[ch] = float32((1-bnMomentum)*float64(runVar[ch]) + bnMomentum*unbiased)
		}
		l.mean[ch] = float32(mean)
		l.invStd[ch] = float32(1 / math.Sqrt(variance+bnEpsilon))
		m, is, g, b := l.mean[ch], l.invStd[ch], gamma[ch], beta[ch]
		l.each(src, ch, func(x []float32, s int) {
			base := len(x) * (ch + l.channels()*s)
			y := dst[base : base+len(x)]
			for i, v := range x {
				y[i] = g*(v-m)*is + b
			}
		})
	})
}

func (l *batchNormLayer) bpropData(threads int) {
	src, dIn, dOut := l.src.Data(), l.diffSrc.Data(), l.diffDst.Data()
	gamma := l.w.Data()
	count := float32(l.count())
	parallel(l.channels(), threads, func(worker, ch int) {
		m, is, g := l.mean[ch], l.invStd[ch], gamma[ch]
		var sum1, sum2 float64
		l.each(src, ch, func(x []float32, s int) {
			base := len(x) * (ch + l.channels()*s)
			dy := dOut[base : base+len(x)]
			for i, v := range x {
				dxhat := float64(dy[i] * g)
				sum1 += dxhat
				sum2 += dxhat * float64((v-m)*is)
			}
		})
		s1, s2 := float32(sum1), float32(sum2)
		l.each(src, ch, func(x []float32, s int) {
			base := len(x) * (ch + l.channels()*s)
			dy, dx := dOut[base:base+len(x)], dIn[base:base+len(x)]
			for i, v := range x {
				xhat := (v - m) * is
				dx[i] = is / count * (count*dy[i]*g - s1 - xhat*s2)
			}
		})
	})
}

func (l *batchNormLayer) bpropFilter(threads int) {
	src, dOut, dGamma := l.src.Data(), l.diffDst.Data(), l.dw.Data()
	for ch := range dGamma {
		m, is := l.mean[ch], l.invStd[ch]
		var sum float64
		l.each(src, ch, func(x []float32, s int) {
			base := len(x) * (ch + l.channels()*s)
			dy := dOut[base : base+len(x)]
			for i, v := range x {
				sum += float64(dy[i] * (v - m) * is)
			}
		})
		dGamma[ch] = float32(sum)
	}
}

func (l *batchNormLayer) bpropBias(threads int) {
	dOut, dBeta := l.diffDst.Data(), l.db.Data()
	for ch := range dBeta {
		var sum float64
		l.each(dOut, ch, func(dy []float32, s int) {
			for _, v := range dy {
				sum += float64(v)
			}
		})
		dBeta[ch] = float32(sum)
	}
}

// rectified linear activation
type reluLayer struct {
	layerBase
}

func (d cpuDevice) ReluLayer(inShape []int) Layer {
	return &reluLayer{layerBase: newLayerBase("relu", inShape, inShape)}
}

func (l *reluLayer) fprop(threads int, trainMode bool) {
	src, dst := l.src.Data(), l.dst.Data()
	for i, v := range src {
		if v > 0 {
			dst[i] = v
		} else {
			dst[i] = 0
		}
	}
}

func (l *reluLayer) bpropData(threads int) {
	src, dIn, dOut := l.src.Data(), l.diffSrc.Data(), l.diffDst.Data()
	for i, v := range src {
		if v > 0 {
			dIn[i] = dOut[i]
		} else {
			dIn[i] = 0
		}
	}
}

// nearest neighbour upsampling
type upsampleLayer struct {
	layerBase
	factor int
}

func (d cpuDevice) UpsampleLayer(inShape []int, factor int) Layer {
	if len(inShape) != 4 {
		panic("UpsampleLayer: expect 4 dimensional input")
	}
	if factor < 1 {
		panic("UpsampleLayer: factor must be >= 1")
	}
	h, w, c, n := inShape[0], inShape[1], inShape[2], inShape[3]
	return &upsampleLayer{
		layerBase: newLayerBase("upsample", inShape, []int{h * factor, w * factor, c, n}),
		factor:    factor,
	}
}

func (l *upsampleLayer) fprop(threads int, trainMode bool) {
	h, w, c, n := l.dims()
	oh, ow := l.outShape[0], l.outShape[1]
	src, dst := l.src.Data(), l.dst.Data()
	parallel(n*c, threads, func(worker, plane int) {
		in, out := src[plane*h*w:(plane+1)*h*w], dst[plane*oh*ow:(plane+1)*oh*ow]
		for ox := 0; ox < ow; ox++ {
			for oy := 0; oy < oh; oy++ {
				out[oy+oh*ox] = in[oy/l.factor+h*(ox/l.factor)]
			}
		}
	})
}

func (l *upsampleLayer) bpropData(threads int) {
	h, w, c, n := l.dims()
	oh, ow := l.outShape[0], l.outShape[1]
	dIn, dOut := l.diffSrc.Data(), l.diffDst.Data()
	parallel(n*c, threads, func(worker, plane int) {
		in, out := dIn[plane*h*w:(plane+1)*h*w], dOut[plane*oh*ow:(plane+1)*oh*ow]
		for i := range in {
			in[i] = 0
		}
		for ox := 0; ox < ow; ox++ {
			for oy := 0; oy < oh; oy++ {
				in[oy/l.factor+h*(ox/l.factor)] += out[oy+oh*ox]
			}
		}
	})
}

// spatial soft-argmax: converts each [height, width] heat map to the expected (x, y) position
// under its softmax distribution. Output is [2*channels, batch] with x then y per channel.
type softArgmaxLayer struct {
	layerBase
	prob []float32
}

func (d cpuDevice) SoftArgmaxLayer(inShape []int) Layer {
	if len(inShape) != 4 {
		panic("SoftArgmaxLayer: expect 4 dimensional input")
	}
	c, n := inShape[2], inShape[3]
	return &softArgmaxLayer{
		layerBase: newLayerBase("softArgmax", inShape, []int{2 * c, n}),
		prob:      make([]float32, Prod(inShape)),
	}
}

func (l *softArgmaxLayer) fprop(threads int, trainMode bool) {
	h, w, c, n := l.dims()
	src, dst := l.src.Data(), l.dst.Data()
	parallel(n*c, threads, func(worker, plane int) {
		in, prob := src[plane*h*w:(plane+1)*h*w], l.prob[plane*h*w:(plane+1)*h*w]
		top := in[0]
		for _, v := range in {
			if v > top {
				top = v
			}
		}
		var sum float64
		for i, v := range in {
			e := math.Exp(float64(v - top))
			prob[i] = float32(e)
			sum += e
		}
		var x, y float64
		for i := range prob {
			prob[i] = float32(float64(prob[i]) / sum)
			x += float64(prob[i]) * float64(i/h)
			y += float64(prob[i]) * float64(i%h)
		}
		dst[2*plane] = float32(x)
		dst[2*plane+1] = float32(y)
	})
}

func (l *softArgmaxLayer) bpropData(threads int) {
	h, w, c, n := l.dims()
	dIn, dOut, dst := l.diffSrc.Data(), l.diffDst.Data(), l.dst.Data()
	parallel(n*c, threads, func(worker, plane int) {
		in, prob := dIn[plane*h*w:(plane+1)*h*w], l.prob[plane*h*w:(plane+1)*h*w]
		gx, gy := dOut[2*plane], dOut[2*plane+1]
		x, y := dst[2*plane], dst[2*plane+1]
		for i, p := range prob {
			in[i] = p * (gx*(float32(i/h)-x) + gy*(float32(i%h)-y))
		}
	})
}
