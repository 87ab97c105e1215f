package nnet

import (
	"github.com/pkg/errors"
)

// Level has the channel counts for the residual blocks on the down path at one resolution and
// on the up path back to it. Up starts from the output of the next level down.
type Level struct {
	Down []int
	Up   []int
}

// Structure of a BitNet model: one entry per resolution plus the channels for the bottom level.
type Structure struct {
	Levels []Level
	Bottom []int
}

// DefaultStructure is the five level model for 96x96 pixel grayscale input
func DefaultStructure() Structure {
	return Structure{
		Levels: []Level{
			{Down: []int{1, 16, 16}, Up: []int{16}},
			{Down: []int{16, 32, 32}, Up: []int{32}},
			{Down: []int{32, 64, 64}, Up: []int{64}},
			{Down: []int{64, 128, 128}, Up: []int{128}},
			{Down: []int{128, 256, 256}, Up: []int{256}},
		},
		Bottom: []int{256, 512, 512},
	}
}

// Scale is the factor by which the input size must be divisible
func (s Structure) Scale() int {
	return 1 << uint(len(s.Levels))
}

// check channel counts are consistent between levels
func (s Structure) validate() error {
	if len(s.Bottom) == 0 {
		return errors.New("bitnet: bottom level has no channels")
	}
	for i, lv := range s.Levels {
		if len(lv.Down) == 0 || len(lv.Up) == 0 {
			return errors.Errorf("bitnet: level %d has empty channel list", i)
		}
		next := s.Bottom[0]
		if i+1 < len(s.Levels) {
			next = s.Levels[i+1].Down[0]
		}
		if out := lv.Down[len(lv.Down)-1]; out != next {
			return errors.Errorf("bitnet: level %d output has %d channels but next level input has %d", i, out, next)
		}
		if out, up := lv.Down[len(lv.Down)-1], lv.Up[len(lv.Up)-1]; out != up {
			return errors.Errorf("bitnet: level %d up path ends with %d channels - expecting %d", i, up, out)
		}
	}
	return nil
}

func (s Structure) outChannels(level int) int {
	if level >= len(s.Levels) {
		return s.Bottom[len(s.Bottom)-1]
	}
	up := s.Levels[level].Up
	return up[len(up)-1]
}

// ResBlock is a pre-activation residual block with two 3x3 convolutions. The shortcut is the identity if
// the number of channels is unchanged, else a 1x1 convolution.
func ResBlock(nin, nout int) Add {
	block := []ConfigLayer{
		BatchNorm{},
		Activation{Atype: "relu"},
		Conv{Nfeats: nout, Size: 3, Pad: true, NoBias: true},
		BatchNorm{},
		Activation{Atype: "relu"},
		Conv{Nfeats: nout, Size: 3, Pad: true},
	}
	if nin == nout {
		return AddLayer(block, nil)
	}
	project := []ConfigLayer{
		Conv{Nfeats: nout, Size: 1, NoBias: true},
	}
	return AddLayer(block, project)
}

// chain of residual blocks between each pair of channel counts
func resChain(channels []int) []ConfigLayer {
	var layers []ConfigLayer
	for i := 1; i < len(channels); i++ {
		layers = append(layers, ResBlock(channels[i-1], channels[i]))
	}
	return layers
}

func (s Structure) level(i int) []ConfigLayer {
	if i == len(s.Levels) {
		return resChain(s.Bottom)
	}
	lv := s.Levels[i]
	inner := []ConfigLayer{Pool{Size: 2}}
	inner = append(inner, s.level(i+1)...)
	inner = append(inner, resChain(append([]int{s.outChannels(i + 1)}, lv.Up...))...)
	inner = append(inner, Upsample{Factor: 2})
	return append(resChain(lv.Down), AddLayer(inner, nil))
}

// BitNet returns the layers for an encoder-decoder model where each level adds the upsampled output of
// the level below to its own features. The head converts the top level output to 2*nPoints coordinates.
func BitNet(s Structure, nPoints int, head string) ([]ConfigLayer, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if nPoints < 1 {
		return nil, errors.Errorf("bitnet: invalid number of points %d", nPoints)
	}
	layers := s.level(0)
	layers = append(layers, BatchNorm{}, Activation{Atype: "relu"})
	switch head {
	case HeatmapHead, "":
		layers = append(layers,
			Conv{Nfeats: nPoints, Size: 1},
			SoftArgmax{},
		)
	case DenseHead:
		layers = append(layers,
			Pool{Size: 4, Average: true},
			Flatten{},
			Linear{Nout: 2 * nPoints},
		)
	default:
		return nil, errors.Errorf("bitnet: invalid head type %q", head)
	}
	return layers, nil
}

// CheckInput returns an error if the image size cannot be used with the structure
func (s Structure) CheckInput(height, width int) error {
	if scale := s.Scale(); height%scale != 0 || width%scale != 0 {
		return errors.Errorf("bitnet: input size %dx%d must be a multiple of %d", width, height, scale)
	}
	return nil
}
