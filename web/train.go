package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/migonch/mesh-detection/nnet"
	"github.com/migonch/mesh-detection/stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	Messages []string
	net      *Network
}

// Base data for handler functions to perform network training and display the stats
func NewTrainPage(t *Templates, net *Network) *TrainPage {
	p := &TrainPage{net: net}
	p.Templates = t.Select("/train")
	p.AddOption(Link{Name: "start", Url: "/train/start"})
	p.AddOption(Link{Name: "stop", Url: "/train/stop"})
	p.AddOption(Link{Name: "continue", Url: "/train/continue"})
	p.AddOption(Link{Name: "tune", Url: "/train/tune"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		p.net.Lock()
		defer p.net.Unlock()
		switch cmd {
		case "start", "continue":
			if err := p.net.Train(cmd == "start"); err != nil {
				p.Flash(w, r, err.Error())
			}
			http.Redirect(w, r, "/train/", http.StatusFound)
		case "stop":
			if p.net.running {
				p.net.stop = true
			}
			http.Redirect(w, r, "/train/", http.StatusFound)
		case "tune":
			p.net.tuneMode = !p.net.tuneMode
			http.Redirect(w, r, "/train/", http.StatusFound)
		default:
			p.Messages = p.Flashes(w, r)
			p.SelectOptions(p.selected())
			p.Heading = p.net.heading()
			p.Exec(w, "train", p)
		}
	}
}

// Handler function for the tuning parameters form
func (p *TrainPage) Tune() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		if err := r.ParseForm(); err != nil {
			logError(w, err)
			return
		}
		params := parseTuners(r.Form)
		if _, err := getRunConfig(p.net.Conf.Config, params); err != nil {
			p.Flash(w, r, "invalid tuning parameters: "+err.Error())
		} else {
			p.net.Tuners = params
		}
		http.Redirect(w, r, "/train/", http.StatusFound)
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Exec(w, "stats", p)
	}
}

// Handler function for websocket connection
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("websocket:", err)
			return
		}
		p.net.Lock()
		p.net.conn = conn
		p.net.Unlock()
	}
}

func (p *TrainPage) selected() []string {
	var sel []string
	if p.net.running {
		sel = append(sel, "start")
	}
	if p.net.tuneMode {
		sel = append(sel, "tune")
	}
	return sel
}

func (p *TrainPage) TuneMode() bool { return p.net.tuneMode }

func (p *TrainPage) Tuners() []TuneParams { return p.net.Tuners }

func (p *TrainPage) Headers() []string {
	return p.net.Tester.Headers
}

// LatestStats returns the stats for the last n epochs with the most recent first.
func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	st := p.net.Tester.Stats
	var res []nnet.Stats
	for i := len(st) - 1; i >= 0 && i >= len(st)-n; i-- {
		res = append(res, st[i])
	}
	return res
}

// Completed runs with the tuning parameters which were used
func (p *TrainPage) History() []map[string]interface{} {
	var res []map[string]interface{}
	for i, h := range p.net.History {
		res = append(res, map[string]interface{}{
			"Run":    i + 1,
			"Params": template.HTML(tuneParams(h.Conf)),
			"Stats":  h.Stats,
		})
	}
	return res
}

// Summary has the mean and stddev of the final loss and metrics over the completed runs
func (p *TrainPage) Summary() []template.HTML {
	var avg []stats.Average
	for _, h := range p.net.History {
		vals := append([]float64{h.Stats.Loss}, h.Stats.Values...)
		if avg == nil {
			avg = make([]stats.Average, len(vals))
		}
		for i := range avg {
			if i < len(vals) {
				avg[i].Add(vals[i])
			}
		}
	}
	res := make([]template.HTML, len(avg))
	for i := range avg {
		res[i] = avg[i].HTML()
	}
	return res
}

func (p *TrainPage) RunTime() string {
	st := p.net.Tester.Stats
	if len(st) == 0 {
		return ""
	}
	return fmt.Sprintf("run time: %s", st[len(st)-1].Elapsed.Round(10*time.Millisecond))
}

// LossPlot has the per batch training loss and the smoothed loss
func (p *TrainPage) LossPlot(width, height int) template.HTML {
	raw, smooth := stats.LossSeries(p.net.Tester.Losses)
	return p.plot("training loss", "loss", width, height, raw, smooth)
}

// MetricPlot has the validation metrics at each epoch where they were evaluated
func (p *TrainPage) MetricPlot(width, height int) template.HTML {
	h := p.net.Tester.History
	series := make([]stats.Series, len(h.Metrics))
	for i, name := range h.Metrics {
		series[i].Name = "val " + name
		for j, epoch := range h.Epochs {
			series[i].X = append(series[i].X, float64(epoch))
			series[i].Y = append(series[i].Y, h.Values[j][i])
		}
	}
	return p.plot("validation", "", width, height, series...)
}

func (p *TrainPage) plot(title, yLabel string, width, height int, series ...stats.Series) template.HTML {
	plt, err := stats.LinePlot(title, "epoch", yLabel, series...)
	if err != nil {
		log.Println(err)
		return ""
	}
	svg, err := stats.SVG(plt, width, height)
	if err != nil {
		log.Println(err)
		return ""
	}
	return template.HTML(svg)
}
