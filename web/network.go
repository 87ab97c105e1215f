// Package web has a web based interface for network training and visualisation of the predicted key-points.
package web

import (
	"fmt"
	"html/template"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/nnet"
)

// Settings for the web interface, the network config is persisted to ExpDir.
type Config struct {
	nnet.Config
	ExpDir string
}

// NewConfig loads the config from the experiment directory if it exists, else uses the defaults.
// Any layers in the saved config are used for the model in place of the default structure.
func NewConfig(expDir string) (*Config, error) {
	c := &Config{Config: nnet.DefaultConfig(), ExpDir: expDir}
	path := filepath.Join(expDir, nnet.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		if c.Config, err = nnet.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Save the config to the experiment directory
func (c *Config) Save() error {
	if err := os.MkdirAll(c.ExpDir, 0755); err != nil {
		return err
	}
	return c.Config.Save(filepath.Join(c.ExpDir, nnet.ConfigFile))
}

// Network with the associated data and state of the current training run
type Network struct {
	*nnet.Experiment
	Conf      *Config
	Run       int
	MaxRun    int
	Epoch     int
	Pred      map[int][]float32
	History   []HistoryData
	Tuners    []TuneParams
	data      *img.FaceData
	structure nnet.Structure
	conn      *websocket.Conn
	started   time.Time
	running   bool
	stop      bool
	tuneMode  bool
	sync.Mutex
}

// Final stats and settings for a completed run
type HistoryData struct {
	Stats nnet.Stats
	Conf  nnet.Config
}

// Create a new network for the given data set
func NewNetwork(conf *Config, data *img.FaceData, s nnet.Structure) (*Network, error) {
	n := &Network{Conf: conf, data: data, structure: s, MaxRun: 1}
	n.Tuners = defaultTuners(conf.Config)
	if err := n.start(conf.Config); err != nil {
		return nil, err
	}
	return n, nil
}

// Initialise a new training run with the given settings
func (n *Network) start(conf nnet.Config) error {
	log.Printf("init network: fold=%d eta=%g batch=%d\n", conf.Fold, conf.Eta, conf.TrainBatch)
	exp, err := nnet.NewExperiment(conf, n.data, n.structure)
	if err != nil {
		return err
	}
	if n.Experiment != nil {
		n.Release()
	}
	n.Experiment = exp
	n.Epoch = 0
	n.Pred = make(map[int][]float32)
	n.started = time.Now()
	return nil
}

// Train starts a training run in the background. If restart is set or the previous run is complete
// then the weights are reinitialised, else training continues from the current epoch.
// Must be called with the lock held.
func (n *Network) Train(restart bool) error {
	if n.running {
		return fmt.Errorf("training already in progress")
	}
	runs := []nnet.Config{n.Conf.Config}
	if n.tuneMode {
		var err error
		if runs, err = getRunConfig(n.Conf.Config, n.Tuners); err != nil {
			return err
		}
	}
	n.MaxRun = len(runs)
	if restart || n.Epoch >= n.MaxEpoch {
		n.Run = 0
		if err := n.start(runs[0]); err != nil {
			return err
		}
	}
	log.Printf("train %s: restart=%v runs=%d\n", n.Conf.ExpDir, restart, n.MaxRun)
	n.running = true
	n.stop = false
	go n.trainLoop(runs)
	return nil
}

func (n *Network) trainLoop(runs []nnet.Config) {
	for {
		start := time.Now()
		losses := nnet.TrainEpoch(n.Net, n.TrainData, n.Opt)
		epoch := n.Epoch + 1
		done, quit := n.nextEpoch(epoch, losses, start)
		if quit {
			break
		}
		if done {
			if n.Run+1 >= len(runs) {
				break
			}
			n.Lock()
			n.Run++
			err := n.start(runs[n.Run])
			n.Unlock()
			if err != nil {
				log.Println("train:", err)
				break
			}
		}
	}
	n.Lock()
	n.running = false
	n.stop = false
	n.Unlock()
	log.Println("train: end of run", n.Run+1)
}

// update stats and predictions after each epoch, returns done at the end of the run and quit if interrupted
func (n *Network) nextEpoch(epoch int, losses []float64, start time.Time) (done, quit bool) {
	n.Lock()
	done = n.Tester.Test(n.Net, epoch, losses, n.started)
	n.Epoch = epoch
	stats := n.Tester.Stats[len(n.Tester.Stats)-1]
	if stats.Values != nil {
		n.predict()
	}
	if n.stop {
		n.running = false
		quit = true
	}
	if done && len(n.Tester.Stats) > 0 {
		n.History = append(n.History, HistoryData{Stats: stats, Conf: n.Config.Copy()})
	}
	var err error
	if stats.Values != nil || done {
		err = n.Save(n.Conf.ExpDir)
	}
	n.Unlock()
	if err != nil {
		log.Println("nextEpoch: error saving network:", err)
	}
	if n.DebugLevel >= 1 {
		log.Printf("epoch %d took %s\n", epoch, time.Since(start).Round(time.Millisecond))
	}
	if n.conn != nil {
		msg := []byte(strconv.Itoa(n.Run+1) + ":" + strconv.Itoa(epoch))
		if err := n.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Println("nextEpoch: error writing to websocket", err)
		}
	}
	return done, quit
}

// update the predicted key-points for each validation sample
func (n *Network) predict() {
	q := n.Queue()
	d := n.ValidData
	size := 2 * n.NumPoints
	d.NextEpoch()
	for batch := 0; batch < d.Batches; batch++ {
		q.Finish()
		x, _ := d.NextBatch()
		pred := n.Net.Predict(x)
		for i, id := range d.BatchIDs() {
			n.Pred[id] = append([]float32{}, pred[i*size:(i+1)*size]...)
		}
	}
}

func (n *Network) heading() template.HTML {
	s := fmt.Sprintf(`%s: run <span id="run">%d</span>/%d  epoch <span id="epoch">%d</span>/%d`,
		n.Conf.ExpDir, n.Run+1, n.MaxRun, n.Epoch, n.MaxEpoch)
	return template.HTML(s)
}
