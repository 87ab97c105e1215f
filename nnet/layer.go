package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/migonch/mesh-detection/num"
)

// Layer interface type represents one layer of the neural net.
type Layer interface {
	ConfigLayer
	Init(q num.Queue, inShape []int) Layer
	InShape() []int
	OutShape() []int
	Fprop(in num.Array, trainMode bool) num.Array
	Bprop(grad num.Array) num.Array
	Output() num.Array
	Type() string
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters, bias may be nil
type ParamLayer interface {
	Layer
	InitParams(init InitType, rng *rand.Rand)
	Params() (W, B num.Array)
	ParamGrads() (dW, dB num.Array)
}

// StatsLayer has running statistics which are used in inference mode
type StatsLayer interface {
	ParamLayer
	Stats() (mean, variance num.Array)
}

// CompoundLayer contains other layers
type CompoundLayer interface {
	Layer
	Sublayers() []Layer
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		return cfg.unmarshal(l.Data)
	case "pool":
		cfg := new(Pool)
		return cfg.unmarshal(l.Data)
	case "batchNorm":
		return &batchNormDNN{}
	case "activation":
		cfg := new(Activation)
		return cfg.unmarshal(l.Data)
	case "linear":
		cfg := new(Linear)
		return cfg.unmarshal(l.Data)
	case "flatten":
		return &flatten{}
	case "upsample":
		cfg := new(Upsample)
		return cfg.unmarshal(l.Data)
	case "softArgmax":
		return &softArgmaxDNN{}
	case "add":
		cfg := new(Add)
		return cfg.unmarshal(l.Data)
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Convolutional layer, implements ParamLayer interface. If Pad is set the output has the same size as the input for stride 1.
type Conv struct {
	Nfeats int
	Size   int
	Stride int
	Pad    bool
	NoBias bool
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) Type() string { return "conv" }

func (c Conv) ToString() string {
	s := fmt.Sprintf("conv %dx%d nfeats=%d", c.Size, c.Size, c.Nfeats)
	if c.Stride > 1 {
		s += fmt.Sprintf(" stride=%d", c.Stride)
	}
	if c.Pad {
		s += " pad"
	}
	if c.NoBias {
		s += " nobias"
	}
	return s
}

func (c *Conv) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &convDNN{Conv: *c}
}

// Max or average pooling layer
type Pool struct {
	Size    int
	Stride  int
	Average bool
}

func (c Pool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "pool", Data: marshal(c)}
}

func (c Pool) Type() string {
	if c.Average {
		return "avgPool"
	}
	return "maxPool"
}

func (c Pool) ToString() string {
	return fmt.Sprintf("%s %dx%d", c.Type(), c.Size, c.Size)
}

func (c *Pool) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &poolDNN{Pool: *c}
}

// Batch normalisation layer, scale and shift parameters are stored as weights and biases.
type BatchNorm struct{}

func (c BatchNorm) Marshal() LayerConfig {
	return LayerConfig{Type: "batchNorm"}
}

func (c BatchNorm) Type() string { return "batchNorm" }

func (c BatchNorm) ToString() string { return "batchNorm" }

// Activation layer, only relu is currently supported.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) Type() string { return c.Atype }

func (c Activation) ToString() string { return "activation " + c.Atype }

func (c *Activation) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	if c.Atype != "relu" {
		panic(fmt.Sprintf("activation type %s invalid", c.Atype))
	}
	return &reluDNN{Activation: *c}
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) Type() string { return "linear" }

func (c Linear) ToString() string { return fmt.Sprintf("linear nout=%d", c.Nout) }

func (c *Linear) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &linear{Linear: *c}
}

// Flatten layer reshapes from 4 to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

func (c Flatten) Type() string { return "flatten" }

func (c Flatten) ToString() string { return "flatten" }

// Nearest neighbour upsampling by an integer factor
type Upsample struct {
	Factor int
}

func (c Upsample) Marshal() LayerConfig {
	if c.Factor == 0 {
		c.Factor = 2
	}
	return LayerConfig{Type: "upsample", Data: marshal(c)}
}

func (c Upsample) Type() string { return "upsample" }

func (c Upsample) ToString() string { return fmt.Sprintf("upsample x%d", c.Factor) }

func (c *Upsample) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &upsampleDNN{Upsample: *c}
}

// SoftArgmax layer converts a heat map per key-point to x, y coordinates
type SoftArgmax struct{}

func (c SoftArgmax) Marshal() LayerConfig {
	return LayerConfig{Type: "softArgmax"}
}

func (c SoftArgmax) Type() string { return "softArgmax" }

func (c SoftArgmax) ToString() string { return "softArgmax" }

// Add layer sums the output of the main path with the shortcut path. If the shortcut is empty then
// the input is added directly, i.e. a residual connection.
type Add struct {
	Layers   []LayerConfig
	Shortcut []LayerConfig
}

// AddLayer creates a residual layer from the list of layers on each path
func AddLayer(main, shortcut []ConfigLayer) Add {
	c := Add{}
	for _, l := range main {
		c.Layers = append(c.Layers, l.Marshal())
	}
	for _, l := range shortcut {
		c.Shortcut = append(c.Shortcut, l.Marshal())
	}
	return c
}

func (c Add) Marshal() LayerConfig {
	return LayerConfig{Type: "add", Data: marshal(c)}
}

func (c Add) Type() string { return "add" }

func (c Add) ToString() string {
	return "add [" + configString(c.Layers) + "] + [" + configString(c.Shortcut) + "]"
}

func (c *Add) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	l := &addLayer{Add: *c}
	for _, cfg := range c.Layers {
		l.main = append(l.main, cfg.Unmarshal())
	}
	for _, cfg := range c.Shortcut {
		l.shortcut = append(l.shortcut, cfg.Unmarshal())
	}
	return l
}

func configString(layers []LayerConfig) string {
	s := make([]string, len(layers))
	for i, l := range layers {
		s[i] = l.Unmarshal().ToString()
	}
	return strings.Join(s, ", ")
}

// common layer functions
type layerBase struct {
	queue    num.Queue
	inShape  []int
	outShape []int
	src      num.Array
	dst      num.Array
	dsrc     num.Array
}

func (l *layerBase) InShape() []int { return l.inShape }

func (l *layerBase) OutShape() []int { return l.outShape }

func (l *layerBase) Output() num.Array { return l.dst }

// layer which wraps a num.Layer
type layerDNN struct {
	layerBase
	layer num.Layer
}

func newLayerDNN(q num.Queue, layer num.Layer) *layerDNN {
	l := &layerDNN{layer: layer}
	l.queue = q
	l.inShape = layer.InShape()
	l.outShape = layer.OutShape()
	l.dst = layer.Dst()
	l.dsrc = layer.DiffSrc()
	return l
}

func (l *layerDNN) DNNLayer() num.Layer {
	return l.layer
}

func (l *layerDNN) Fprop(in num.Array, trainMode bool) num.Array {
	l.src = in
	l.layer.SetSrc(in)
	l.queue.Call(num.Fprop(l.layer, trainMode))
	return l.dst
}

func (l *layerDNN) Bprop(grad num.Array) num.Array {
	l.layer.SetDiffDst(grad)
	if l.layer.HasParams() {
		l.queue.Call(num.BpropFilter(l.layer))
		if l.layer.BiasShape() != nil {
			l.queue.Call(num.BpropBias(l.layer))
		}
	}
	l.queue.Call(num.BpropData(l.layer))
	return l.dsrc
}

// convolutional layer implementation
type convDNN struct {
	Conv
	paramBase
	*layerDNN
}

func (l *convDNN) Init(q num.Queue, inShape []int) Layer {
	if len(inShape) != 4 {
		panic("Conv: expect 4 dimensional input")
	}
	h, w, d, n := inShape[0], inShape[1], inShape[2], inShape[3]
	pad := 0
	if l.Pad {
		pad = l.Size / 2
	}
	layer := q.ConvLayer(n, d, h, w, l.Nfeats, l.Size, l.Stride, pad, l.NoBias)
	l.paramBase = newParams(q, layer.FilterShape(), layer.BiasShape())
	l.fanIn = d * l.Size * l.Size
	l.fanOut = l.Nfeats * l.Size * l.Size
	layer.SetParams(l.w, l.b, l.dw, l.db)
	l.layerDNN = newLayerDNN(q, layer)
	return l
}

// pool layer implentation
type poolDNN struct {
	Pool
	*layerDNN
}

func (l *poolDNN) Init(q num.Queue, inShape []int) Layer {
	layer := q.PoolLayer(inShape, l.Size, l.Stride, l.Average)
	l.layerDNN = newLayerDNN(q, layer)
	return l
}

// batch normalisation layer implementation
type batchNormDNN struct {
	BatchNorm
	paramBase
	*layerDNN
	stats num.BatchNorm
}

func (l *batchNormDNN) Init(q num.Queue, inShape []int) Layer {
	layer := q.BatchNormLayer(inShape)
	l.paramBase = newParams(q, layer.FilterShape(), layer.BiasShape())
	layer.SetParams(l.w, l.b, l.dw, l.db)
	l.stats = layer
	l.layerDNN = newLayerDNN(q, layer)
	return l
}

// InitParams sets the scale to 1 and the shift to 0
func (l *batchNormDNN) InitParams(init InitType, rng *rand.Rand) {
	mean, variance := l.stats.Stats()
	l.queue.Call(
		num.Fill(l.w, 1),
		num.Fill(l.b, 0),
		num.Fill(mean, 0),
		num.Fill(variance, 1),
	)
}

func (l *batchNormDNN) Stats() (mean, variance num.Array) {
	return l.stats.Stats()
}

// relu activation layer implementation
type reluDNN struct {
	Activation
	*layerDNN
}

func (l *reluDNN) Init(q num.Queue, inShape []int) Layer {
	l.layerDNN = newLayerDNN(q, q.ReluLayer(inShape))
	return l
}

// upsample layer implementation
type upsampleDNN struct {
	Upsample
	*layerDNN
}

func (l *upsampleDNN) Init(q num.Queue, inShape []int) Layer {
	l.layerDNN = newLayerDNN(q, q.UpsampleLayer(inShape, l.Factor))
	return l
}

// soft argmax layer implementation
type softArgmaxDNN struct {
	SoftArgmax
	*layerDNN
}

func (l *softArgmaxDNN) Init(q num.Queue, inShape []int) Layer {
	l.layerDNN = newLayerDNN(q, q.SoftArgmaxLayer(inShape))
	return l
}

// linear layer implementation, weights have shape [nout, nin]
type linear struct {
	Linear
	layerBase
	paramBase
	ones num.Array
}

func (l *linear) Init(q num.Queue, inShape []int) Layer {
	if len(inShape) != 2 {
		panic("Linear: expect 2 dimensional input")
	}
	nIn, nBatch := inShape[0], inShape[1]
	l.queue = q
	l.inShape = inShape
	l.outShape = []int{l.Nout, nBatch}
	l.dst = q.NewArray(l.outShape...)
	l.dsrc = q.NewArray(inShape...)
	l.paramBase = newParams(q, []int{l.Nout, nIn}, []int{l.Nout})
	l.fanIn, l.fanOut = nIn, l.Nout
	l.ones = q.NewArray(nBatch)
	q.Call(num.Fill(l.ones, 1))
	return l
}

func (l *linear) Fprop(in num.Array, trainMode bool) num.Array {
	l.src = in
	l.queue.Call(
		num.Copy(l.dst, l.b),
		num.Gemm(1, 1, l.w, l.src, l.dst, num.NoTrans, num.NoTrans),
	)
	return l.dst
}

func (l *linear) Bprop(grad num.Array) num.Array {
	l.queue.Call(
		num.Gemv(1, 0, grad, l.ones, l.db, num.NoTrans),
		num.Gemm(1, 0, grad, l.src, l.dw, num.NoTrans, num.Trans),
		num.Gemm(1, 0, l.w, grad, l.dsrc, num.Trans, num.NoTrans),
	)
	return l.dsrc
}

// flatten layer reshapes the input without copying
type flatten struct {
	Flatten
	layerBase
}

func (l *flatten) Init(q num.Queue, inShape []int) Layer {
	l.queue = q
	l.inShape = inShape
	l.outShape = []int{num.Prod(inShape[:len(inShape)-1]), inShape[len(inShape)-1]}
	return l
}

func (l *flatten) Fprop(in num.Array, trainMode bool) num.Array {
	l.src = in
	l.dst = in.Reshape(l.outShape...)
	return l.dst
}

func (l *flatten) Bprop(grad num.Array) num.Array {
	l.dsrc = grad.Reshape(l.inShape...)
	return l.dsrc
}

// residual add layer implementation
type addLayer struct {
	Add
	layerBase
	main     []Layer
	shortcut []Layer
}

func (l *addLayer) Init(q num.Queue, inShape []int) Layer {
	if len(l.main) == 0 {
		panic("Add: main path has no layers")
	}
	l.queue = q
	l.inShape = inShape
	shape := inShape
	for _, layer := range l.main {
		layer.Init(q, shape)
		shape = layer.OutShape()
	}
	l.outShape = shape
	shape = inShape
	for _, layer := range l.shortcut {
		layer.Init(q, shape)
		shape = layer.OutShape()
	}
	if !num.SameShape(shape, l.outShape) {
		panic(fmt.Sprintf("Add: output shape %v does not match shortcut %v", l.outShape, shape))
	}
	l.dst = q.NewArray(l.outShape...)
	l.dsrc = q.NewArray(inShape...)
	return l
}

func (l *addLayer) Sublayers() []Layer {
	return append(append([]Layer{}, l.main...), l.shortcut...)
}

func (l *addLayer) Fprop(in num.Array, trainMode bool) num.Array {
	l.src = in
	x := in
	for _, layer := range l.main {
		x = layer.Fprop(x, trainMode)
	}
	y := in
	for _, layer := range l.shortcut {
		y = layer.Fprop(y, trainMode)
	}
	l.queue.Call(num.Add(x, y, l.dst))
	return l.dst
}

func (l *addLayer) Bprop(grad num.Array) num.Array {
	dx := grad
	for i := len(l.main) - 1; i >= 0; i-- {
		dx = l.main[i].Bprop(dx)
	}
	dy := grad
	for i := len(l.shortcut) - 1; i >= 0; i-- {
		dy = l.shortcut[i].Bprop(dy)
	}
	l.queue.Call(num.Add(dx, dy, l.dsrc))
	return l.dsrc
}

// weight and bias parameters
type paramBase struct {
	que    num.Queue
	w, b   num.Array
	dw, db num.Array
	fanIn  int
	fanOut int
}

func newParams(q num.Queue, wShape, bShape []int) paramBase {
	p := paramBase{
		que: q,
		w:   q.NewArray(wShape...),
		dw:  q.NewArray(wShape...),
	}
	if bShape != nil {
		p.b = q.NewArray(bShape...)
		p.db = q.NewArray(bShape...)
	}
	return p
}

func (p *paramBase) Params() (W, B num.Array) {
	return p.w, p.b
}

func (p *paramBase) ParamGrads() (dW, dB num.Array) {
	return p.dw, p.db
}

// InitParams sets random weights using the given scheme. Biases use the same uniform range as the
// weights for the default scheme, as for torch, else they are set to zero.
func (p *paramBase) InitParams(init InitType, rng *rand.Rand) {
	weights := make([]float32, p.w.Size())
	fanIn, fanOut := float64(p.fanIn), float64(p.fanOut)
	var bound float64
	switch init {
	case HeNormal:
		scale := math.Sqrt(2 / fanIn)
		for i := range weights {
			weights[i] = float32(rng.NormFloat64() * scale)
		}
	case GlorotUniform:
		bound = math.Sqrt(6 / (fanIn + fanOut))
		for i := range weights {
			weights[i] = float32(bound * (2*rng.Float64() - 1))
		}
		bound = 0
	default:
		bound = 1 / math.Sqrt(fanIn)
		for i := range weights {
			weights[i] = float32(bound * (2*rng.Float64() - 1))
		}
	}
	p.que.Call(num.Write(p.w, weights))
	if p.b != nil {
		bias := make([]float32, p.b.Size())
		for i := range bias {
			bias[i] = float32(bound * (2*rng.Float64() - 1))
		}
		p.que.Call(num.Write(p.b, bias))
	}
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	if len(data) == 0 {
		return
	}
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
