package web

import (
	"fmt"
	"net/http"

	"github.com/migonch/mesh-detection/nnet"
)

// settings which are fixed by the data set and model structure
var readOnly = map[string]bool{"NumPoints": true, "Mean": true, "StdDev": true}

type ConfigPage struct {
	*Templates
	Fields   []Field
	Layers   []Layer
	Messages []string
	net      *Network
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

type Layer struct {
	Index int
	Desc  string
}

// Base data for handler functions to view and update the network config
func NewConfigPage(t *Templates, net *Network) *ConfigPage {
	p := &ConfigPage{net: net}
	p.Templates = t.Select("/config")
	p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	p.AddOption(Link{Name: "reset", Url: "/config/reset"})
	p.Fields = getFields(net.Conf.Config)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Messages = p.Flashes(w, r)
		p.Layers = getLayers(p.net.Config)
		p.Heading = p.net.heading()
		p.Exec(w, "config", p)
	}
}

// Handler function for the config form save action
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		if err := r.ParseForm(); err != nil {
			logError(w, err)
			return
		}
		conf, errors := updateConfig(p.net.Conf.Config, p.Fields, r.Form.Get)
		if errors > 0 {
			p.Flash(w, r, fmt.Sprintf("%d invalid settings - config not saved", errors))
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		p.net.Conf.Config = conf
		if err := p.net.Conf.Save(); err != nil {
			logError(w, err)
			return
		}
		p.Flash(w, r, "config saved - restart training to apply")
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function for the config reset action
func (p *ConfigPage) Reset() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.net.Conf.Config = nnet.DefaultConfig()
		p.Fields = getFields(p.net.Conf.Config)
		if err := p.net.Conf.Save(); err != nil {
			logError(w, err)
			return
		}
		p.Flash(w, r, "config reset to defaults")
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// apply the form values to the config, field errors are updated and the number of errors is returned.
// Layers loaded from the config file are dropped if the output head is changed.
func updateConfig(conf nnet.Config, fields []Field, get func(string) string) (nnet.Config, int) {
	errors := 0
	head := conf.Head
	for i, fld := range fields {
		val := get(fld.Name)
		var err error
		if fld.Boolean {
			fields[i].On = val == "true"
			conf, err = conf.SetBool(fld.Name, fields[i].On)
		} else {
			fields[i].Value = val
			conf, err = conf.SetString(fld.Name, val)
		}
		fields[i].Error = ""
		if err != nil {
			fields[i].Error = "invalid syntax"
			errors++
		}
	}
	if conf.Head != head {
		conf.Layers = nil
	}
	return conf, errors
}

func getFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		if readOnly[key] {
			continue
		}
		f := Field{Name: key, Value: fmt.Sprint(conf.Get(key))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}

func getLayers(conf nnet.Config) []Layer {
	layers := make([]Layer, len(conf.Layers))
	for i, l := range conf.Layers {
		layers[i].Index = i
		layers[i].Desc = l.String()
	}
	return layers
}
