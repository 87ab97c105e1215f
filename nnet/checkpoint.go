package nnet

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/migonch/mesh-detection/num"
	"github.com/pkg/errors"
)

// Model weights and settings saved after training
type ModelData struct {
	Config  Config
	InShape []int
	Layers  []LayerData
}

// Parameters for each layer returned by Network.ParamLayers. Mean and Var are set for batch norm layers.
type LayerData struct {
	Type string
	W, B []float32
	Mean []float32
	Var  []float32
}

// Export copies the network parameters and batch norm statistics to host memory
func (n *Network) Export() ModelData {
	d := ModelData{Config: n.Config.Copy(), InShape: n.inShape[:len(n.inShape)-1]}
	for _, l := range n.ParamLayers() {
		ld := LayerData{Type: l.Type()}
		W, B := l.Params()
		ld.W = n.read(W)
		if B != nil {
			ld.B = n.read(B)
		}
		if s, ok := l.(StatsLayer); ok {
			mean, variance := s.Stats()
			ld.Mean, ld.Var = n.read(mean), n.read(variance)
		}
		d.Layers = append(d.Layers, ld)
	}
	return d
}

// Import sets the network parameters from previously exported data
func (n *Network) Import(d ModelData) error {
	layers := n.ParamLayers()
	if len(layers) != len(d.Layers) {
		return errors.Errorf("import: network has %d parameter layers, data has %d", len(layers), len(d.Layers))
	}
	for i, l := range layers {
		ld := d.Layers[i]
		if ld.Type != l.Type() {
			return errors.Errorf("import: layer %d type is %s - expecting %s", i, ld.Type, l.Type())
		}
		W, B := l.Params()
		if err := n.write(W, ld.W); err != nil {
			return errors.Wrapf(err, "import layer %d weights", i)
		}
		if B != nil {
			if err := n.write(B, ld.B); err != nil {
				return errors.Wrapf(err, "import layer %d bias", i)
			}
		}
		if s, ok := l.(StatsLayer); ok {
			mean, variance := s.Stats()
			if err := n.write(mean, ld.Mean); err != nil {
				return errors.Wrapf(err, "import layer %d mean", i)
			}
			if err := n.write(variance, ld.Var); err != nil {
				return errors.Wrapf(err, "import layer %d variance", i)
			}
		}
	}
	n.queue.Finish()
	return nil
}

func (n *Network) read(a num.Array) []float32 {
	data := make([]float32, a.Size())
	n.queue.Call(num.Read(a, data)).Finish()
	return data
}

func (n *Network) write(a num.Array, data []float32) error {
	if len(data) != a.Size() {
		return errors.Errorf("size mismatch: have %d values - expecting %d", len(data), a.Size())
	}
	n.queue.Call(num.Write(a, data))
	return nil
}

// SaveModel writes the config, weights and batch norm statistics to a gob file
func SaveModel(net *Network, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error saving model")
	}
	defer f.Close()
	fmt.Println("saving model to", path)
	if err = gob.NewEncoder(f).Encode(net.Export()); err != nil {
		return errors.Wrapf(err, "error encoding model to %s", path)
	}
	return nil
}

// LoadModel creates a new network from a file written by SaveModel with the given batch size
func LoadModel(path string, q num.Queue, batchSize int) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error loading model")
	}
	defer f.Close()
	var d ModelData
	if err = gob.NewDecoder(f).Decode(&d); err != nil {
		return nil, errors.Wrapf(err, "error decoding model from %s", path)
	}
	net := New(q, d.Config, batchSize, d.InShape)
	if err = net.Import(d); err != nil {
		return nil, err
	}
	return net, nil
}
