package nnet

import (
	"math/rand"
	"reflect"
	"testing"
)

func smallStructure() Structure {
	return Structure{
		Levels: []Level{
			{Down: []int{1, 4, 4}, Up: []int{4}},
			{Down: []int{4, 8}, Up: []int{6, 8}},
		},
		Bottom: []int{8, 8},
	}
}

func TestBitNetShape(t *testing.T) {
	q := dev.NewQueue(2)
	for _, head := range []string{HeatmapHead, DenseHead} {
		layers, err := BitNet(smallStructure(), 3, head)
		if err != nil {
			t.Fatal(err)
		}
		conf := DefaultConfig().AddLayers(layers...)
		net := New(q, conf, 2, []int{8, 8, 1})
		t.Logf("%s\n%s", head, net)
		if s := net.OutShape(); !reflect.DeepEqual(s, []int{6, 2}) {
			t.Errorf("%s head: got output shape %v", head, s)
		}
		net.InitWeights(rand.New(rand.NewSource(1)))
		input := q.NewArray(net.InShape()...)
		pred := net.Predict(input)
		if len(pred) != 12 {
			t.Errorf("%s head: got %d predictions", head, len(pred))
		}
	}
}

func TestResBlock(t *testing.T) {
	b := ResBlock(4, 4)
	if len(b.Layers) != 6 || len(b.Shortcut) != 0 {
		t.Errorf("identity block: got %d layers and %d shortcut", len(b.Layers), len(b.Shortcut))
	}
	b = ResBlock(4, 8)
	if len(b.Shortcut) != 1 || b.Shortcut[0].Type != "conv" {
		t.Errorf("projection block: got shortcut %v", b.Shortcut)
	}
}

func TestDefaultStructure(t *testing.T) {
	s := DefaultStructure()
	if err := s.validate(); err != nil {
		t.Fatal(err)
	}
	if s.Scale() != 32 {
		t.Error("got scale", s.Scale())
	}
	if err := s.CheckInput(96, 96); err != nil {
		t.Error(err)
	}
	if err := s.CheckInput(96, 100); err == nil {
		t.Error("expecting error for 100 pixel width")
	}
	layers, err := BitNet(s, 15, HeatmapHead)
	if err != nil {
		t.Fatal(err)
	}
	conf := DefaultConfig().AddLayers(layers...)
	t.Log(conf)
}

func TestBitNetErrors(t *testing.T) {
	s := smallStructure()
	s.Levels[0].Up = []int{5}
	if _, err := BitNet(s, 3, HeatmapHead); err == nil {
		t.Error("expecting error for up channels")
	} else {
		t.Log(err)
	}
	s = smallStructure()
	s.Bottom = []int{6, 8}
	if _, err := BitNet(s, 3, HeatmapHead); err == nil {
		t.Error("expecting error for bottom channels")
	}
	if _, err := BitNet(smallStructure(), 0, HeatmapHead); err == nil {
		t.Error("expecting error for zero points")
	}
	if _, err := BitNet(smallStructure(), 3, "other"); err == nil {
		t.Error("expecting error for head type")
	}
}
