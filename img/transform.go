package img

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"strings"
	"sync"
)

// Sample is a single image with its key-points. Dims is [height, width] or [height, width, channels] and
// Pix is in column major order. Points has x, y pairs in pixel units with NaN for missing values.
type Sample struct {
	Dims   []int
	Pix    []float32
	Points []float32
}

// Transform is applied to each sample as it is loaded. Transforms must not modify the input pixel data.
type Transform interface {
	Apply(s Sample, rng *rand.Rand) Sample
	OutShape(dims []int) []int
	String() string
}

// RandomShift moves the image and key-points by a random offset of up to MaxShift pixels
// along each axis. Uncovered pixels are set to zero and points which end up outside the image are missing.
type RandomShift struct {
	MaxShift int
}

func (t RandomShift) String() string { return fmt.Sprintf("RandomShift(%d)", t.MaxShift) }

func (t RandomShift) OutShape(dims []int) []int { return dims }

func (t RandomShift) Apply(s Sample, rng *rand.Rand) Sample {
	if t.MaxShift <= 0 {
		return s
	}
	dx := rng.Intn(2*t.MaxShift+1) - t.MaxShift
	dy := rng.Intn(2*t.MaxShift+1) - t.MaxShift
	return Shift(s, dx, dy)
}

// Shift translates the sample by dx, dy pixels
func Shift(s Sample, dx, dy int) Sample {
	h, w := s.Dims[0], s.Dims[1]
	planes := len(s.Pix) / (h * w)
	pix := make([]float32, len(s.Pix))
	for p := 0; p < planes; p++ {
		src, dst := s.Pix[p*h*w:(p+1)*h*w], pix[p*h*w:(p+1)*h*w]
		for x := 0; x < w; x++ {
			sx := x - dx
			if sx < 0 || sx >= w {
				continue
			}
			for y := 0; y < h; y++ {
				sy := y - dy
				if sy >= 0 && sy < h {
					dst[y+h*x] = src[sy+h*sx]
				}
			}
		}
	}
	points := make([]float32, len(s.Points))
	for i := 0; i+1 < len(points); i += 2 {
		x, y := s.Points[i]+float32(dx), s.Points[i+1]+float32(dy)
		if isNaN(x) || isNaN(y) || x < 0 || x > float32(w-1) || y < 0 || y > float32(h-1) {
			x, y = float32(math.NaN()), float32(math.NaN())
		}
		points[i], points[i+1] = x, y
	}
	return Sample{Dims: s.Dims, Pix: pix, Points: points}
}

// ScalePoints maps key-points from a resized crop back to the source image. Coordinates are pixel
// centres so the centre of pixel p in the crop maps to the centre of the scale sized block at x0 + p*scale.
func ScalePoints(points []float32, x0, y0, scale float64) []float32 {
	res := make([]float32, len(points))
	for i := 0; i+1 < len(points); i += 2 {
		res[i] = float32(x0 + (float64(points[i])+0.5)*scale - 0.5)
		res[i+1] = float32(y0 + (float64(points[i+1])+0.5)*scale - 0.5)
	}
	return res
}

// AddChannelDim converts a [height, width] sample to [height, width, 1]
type AddChannelDim struct{}

func (t AddChannelDim) String() string { return "AddChannelDim" }

func (t AddChannelDim) OutShape(dims []int) []int {
	if len(dims) == 2 {
		return []int{dims[0], dims[1], 1}
	}
	return dims
}

func (t AddChannelDim) Apply(s Sample, rng *rand.Rand) Sample {
	s.Dims = t.OutShape(s.Dims)
	return s
}

// Normalise scales the pixel values to zero mean and unit standard deviation
type Normalise struct {
	Mean, StdDev float32
}

func (t Normalise) String() string { return fmt.Sprintf("Normalise(%.3f, %.3f)", t.Mean, t.StdDev) }

func (t Normalise) OutShape(dims []int) []int { return dims }

func (t Normalise) Apply(s Sample, rng *rand.Rand) Sample {
	pix := make([]float32, len(s.Pix))
	for i, v := range s.Pix {
		pix[i] = (v - t.Mean) / t.StdDev
	}
	s.Pix = pix
	return s
}

// Transformer applies a sequence of transforms to batches of samples in parallel
type Transformer struct {
	Trans []Transform
	data  *FaceData
	rng   []*rand.Rand
}

// Create a new transformer object which applies a sequence of transformations. Each worker thread has
// its own random number generator so the results are repeatable for a given seed and thread count.
func NewTransformer(data *FaceData, threads int, rng *rand.Rand, trans ...Transform) *Transformer {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	t := &Transformer{Trans: trans, data: data}
	for i := 0; i < threads; i++ {
		t.rng = append(t.rng, rand.New(rand.NewSource(rng.Int63())))
	}
	return t
}

func (t *Transformer) String() string {
	s := make([]string, len(t.Trans))
	for i, tr := range t.Trans {
		s[i] = tr.String()
	}
	return strings.Join(s, " ")
}

// Shape returns the sample dimensions after all of the transforms are applied
func (t *Transformer) Shape(dims []int) []int {
	for _, tr := range t.Trans {
		dims = tr.OutShape(dims)
	}
	return dims
}

// Transform a batch of samples in parallel, sample i is processed by thread i modulo number of threads.
func (t *Transformer) TransformBatch(ids []int, dst []Sample) []Sample {
	if dst == nil {
		dst = make([]Sample, len(ids))
	}
	threads := len(t.rng)
	if threads > len(ids) {
		threads = len(ids)
	}
	var wg sync.WaitGroup
	for thread := 0; thread < threads; thread++ {
		wg.Add(1)
		go func(thread int) {
			for i := thread; i < len(ids); i += len(t.rng) {
				dst[i] = t.Transform(t.data.Sample(ids[i]), thread)
			}
			wg.Done()
		}(thread)
	}
	wg.Wait()
	return dst
}

// Perform each transform in turn
func (t *Transformer) Transform(s Sample, thread int) Sample {
	rng := t.rng[thread]
	for _, tr := range t.Trans {
		s = tr.Apply(s, rng)
	}
	return s
}
