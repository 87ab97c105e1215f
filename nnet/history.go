package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/migonch/mesh-detection/stats"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"
)

// Output file names in the experiment directory
const (
	ModelFile    = "model.gob"
	ConfigFile   = "config.json"
	LossesFile   = "losses.npy"
	MetricsFile  = "val_metrics.npy"
	MetricsIndex = "val_metrics.json"
	LossesPlot   = "losses.svg"
	MetricsPlot  = "val_metrics.svg"
)

// metric names and epochs for each row of the validation metrics array
type metricsIndex struct {
	Metrics []string `json:"metrics"`
	Epochs  []int    `json:"epochs"`
}

// LossMatrix returns the per batch losses as an [epochs, batches] matrix
func (h History) LossMatrix() (*mat.Dense, error) {
	if len(h.Losses) == 0 || len(h.Losses[0]) == 0 {
		return nil, errors.New("history: no losses recorded")
	}
	rows, cols := len(h.Losses), len(h.Losses[0])
	m := mat.NewDense(rows, cols, nil)
	for i, row := range h.Losses {
		if len(row) != cols {
			return nil, errors.Errorf("history: epoch %d has %d batches - expecting %d", i+1, len(row), cols)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

// MetricMatrix returns the validation metrics as a [validations, metrics] matrix with columns in name order
func (h History) MetricMatrix() (*mat.Dense, error) {
	if len(h.Values) == 0 || len(h.Metrics) == 0 {
		return nil, errors.New("history: no validation metrics recorded")
	}
	m := mat.NewDense(len(h.Values), len(h.Metrics), nil)
	for i, row := range h.Values {
		if len(row) != len(h.Metrics) {
			return nil, errors.Errorf("history: validation %d has %d values - expecting %d", i, len(row), len(h.Metrics))
		}
		m.SetRow(i, row)
	}
	return m, nil
}

// Save writes the losses and validation metrics to numpy files in dir along with line plots of each
func (h History) Save(dir string) error {
	losses, err := h.LossMatrix()
	if err != nil {
		return err
	}
	if err = writeNpy(filepath.Join(dir, LossesFile), losses); err != nil {
		return err
	}
	raw, smooth := stats.LossSeries(h.Losses)
	if err = savePlot(filepath.Join(dir, LossesPlot), "training loss", "loss", raw, smooth); err != nil {
		return err
	}
	if len(h.Values) == 0 {
		return nil
	}
	metrics, err := h.MetricMatrix()
	if err != nil {
		return err
	}
	if err = writeNpy(filepath.Join(dir, MetricsFile), metrics); err != nil {
		return err
	}
	if err = writeJSON(filepath.Join(dir, MetricsIndex), metricsIndex{Metrics: h.Metrics, Epochs: h.Epochs}); err != nil {
		return err
	}
	var series []stats.Series
	for j, name := range h.Metrics {
		s := stats.Series{Name: name}
		for i, epoch := range h.Epochs {
			s.X = append(s.X, float64(epoch))
			s.Y = append(s.Y, h.Values[i][j])
		}
		series = append(series, s)
	}
	return savePlot(filepath.Join(dir, MetricsPlot), "validation metrics", "value", series...)
}

// LoadHistory reads the losses and any validation metrics saved in dir
func LoadHistory(dir string) (h History, err error) {
	var losses mat.Dense
	if err = readNpy(filepath.Join(dir, LossesFile), &losses); err != nil {
		return h, err
	}
	rows, _ := losses.Dims()
	for i := 0; i < rows; i++ {
		h.Losses = append(h.Losses, mat.Row(nil, i, &losses))
	}
	f, err := os.Open(filepath.Join(dir, MetricsIndex))
	if os.IsNotExist(err) {
		return h, nil
	} else if err != nil {
		return h, errors.Wrap(err, "error loading history")
	}
	defer f.Close()
	var index metricsIndex
	if err = json.NewDecoder(f).Decode(&index); err != nil {
		return h, errors.Wrapf(err, "error decoding %s", MetricsIndex)
	}
	var values mat.Dense
	if err = readNpy(filepath.Join(dir, MetricsFile), &values); err != nil {
		return h, err
	}
	h.Metrics, h.Epochs = index.Metrics, index.Epochs
	rows, _ = values.Dims()
	for i := 0; i < rows; i++ {
		h.Values = append(h.Values, mat.Row(nil, i, &values))
	}
	return h, nil
}

func writeNpy(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error saving history")
	}
	defer f.Close()
	fmt.Println("saving", filepath.Base(path))
	if err = npyio.Write(f, m); err != nil {
		return errors.Wrapf(err, "error writing %s", path)
	}
	return nil
}

func readNpy(path string, m *mat.Dense) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "error loading history")
	}
	defer f.Close()
	if err = npyio.Read(f, m); err != nil {
		return errors.Wrapf(err, "error reading %s", path)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error saving history")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(v); err != nil {
		return errors.Wrapf(err, "error writing %s", path)
	}
	return nil
}

func savePlot(path, title, yLabel string, series ...stats.Series) error {
	p, err := stats.LinePlot(title, "epoch", yLabel, series...)
	if err != nil {
		return err
	}
	return stats.SavePlot(p, 8*vg.Inch, 5*vg.Inch, path)
}
