package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Weight initialisation options
type InitType string

const (
	// uniform in +-1/sqrt(fan in)
	Uniform InitType = "uniform"
	// normal with stddev sqrt(2/fan in)
	HeNormal InitType = "he"
	// uniform in +-sqrt(6/(fan in + fan out))
	GlorotUniform InitType = "glorot"
)

// Network output heads
const (
	HeatmapHead = "heatmap"
	DenseHead   = "dense"
)

// Training configuration settings
type Config struct {
	DataSet     string
	Eta         float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	MaxEpoch    int
	TrainBatch  int
	MaxShift    int
	Folds       int
	Fold        int
	ValFraction float64
	Normalise   bool
	Mean        float64
	StdDev      float64
	ValidEvery  int
	LogEvery    int
	RandSeed    int64
	Threads     int
	WeightInit  InitType
	Head        string
	NumPoints   int
	DebugLevel  int
	Profile     bool
	Layers      []LayerConfig
}

// Default settings for training the key-point model
func DefaultConfig() Config {
	return Config{
		DataSet:     "~/kaggle_face/training.csv",
		Eta:         1e-3,
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		MaxEpoch:    50,
		TrainBatch:  50,
		MaxShift:    5,
		Folds:       5,
		ValFraction: 0.1,
		ValidEvery:  1,
		LogEvery:    1,
		RandSeed:    42,
		WeightInit:  Uniform,
		Head:        HeatmapHead,
		NumPoints:   15,
	}
}

// Load config from json file
func LoadConfig(path string) (c Config, err error) {
	var f *os.File
	if f, err = os.Open(path); err != nil {
		return c, errors.Wrap(err, "error loading config")
	}
	defer f.Close()
	fmt.Println("loading network config from", path)
	dec := json.NewDecoder(f)
	if err = dec.Decode(&c); err != nil {
		return c, errors.Wrapf(err, "error decoding %s", path)
	}
	return c, nil
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	c.Layers = append([]LayerConfig{}, c.Layers...)
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Save config to JSON file, writes to a temporary file first and then renames it.
func (c Config) Save(path string) error {
	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path))
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "error saving config")
	}
	fmt.Println("saving network config to", path)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return errors.Wrap(err, "error encoding config")
	}
	f.Close()
	return os.Rename(tmpPath, path)
}

// Fields returns the name of each setting excluding the layer definitions
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-1)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

// Copy returns a copy of the config with its own layer list
func (c Config) Copy() Config {
	c.Layers = append([]LayerConfig{}, c.Layers...)
	return c
}

func (c Config) configString() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

func (c Config) String() string {
	s := c.configString()
	if c.Layers != nil {
		str := []string{"\n== Network =="}
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
		s += strings.Join(str, "\n")
	}
	return s
}

func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, errors.Errorf("invalid config setting %q", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.String:
		f.SetString(val)
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	default:
		return c, errors.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, err
}

func (c Config) SetBool(key string, val bool) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if f.IsValid() && f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, errors.Errorf("invalid type for SetBool: %s", key)
}
