package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/migonch/mesh-detection/nnet"
)

var tuneOpts = []string{"Eta", "TrainBatch", "MaxShift"}
var tuneOptHtml = []string{"&eta;", "batch", "shift"}

// Set of values to try for one config setting
type TuneParams struct {
	Name   string
	Values []string
}

func defaultTuners(conf nnet.Config) []TuneParams {
	var params []TuneParams
	for _, opt := range tuneOpts {
		params = append(params, TuneParams{Name: opt, Values: []string{fmt.Sprint(conf.Get(opt))}})
	}
	return params
}

// For hyperparameter tuning, get config per run with each combination of the parameter values
func getRunConfig(conf nnet.Config, params []TuneParams) ([]nnet.Config, error) {
	var err error
	for _, p := range params {
		if conf, err = conf.SetString(p.Name, p.Values[0]); err != nil {
			return nil, err
		}
	}
	list, err := permute(conf, params, len(params)-1, []nnet.Config{conf})
	if err != nil {
		return nil, err
	}
	log.Printf("getRunConfig: cases=%d\n", len(list))
	return list, nil
}

func permute(conf nnet.Config, params []TuneParams, n int, list []nnet.Config) ([]nnet.Config, error) {
	if n < 0 {
		return list, nil
	}
	var err error
	for i, val := range params[n].Values {
		if i > 0 {
			if conf, err = conf.SetString(params[n].Name, val); err != nil {
				return nil, err
			}
			list = append(list, conf)
		}
		if list, err = permute(conf, params, n-1, list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func tuneParams(conf nnet.Config) string {
	plist := make([]string, len(tuneOpts))
	for i, p := range tuneOpts {
		plist[i] = fmt.Sprintf("%s=%v", tuneOptHtml[i], conf.Get(p))
	}
	return strings.Join(plist, " ")
}

// parse a comma separated list of values for each tuning parameter
func parseTuners(form map[string][]string) []TuneParams {
	var params []TuneParams
	for _, opt := range tuneOpts {
		p := TuneParams{Name: opt}
		for _, v := range strings.Split(strings.Join(form[opt], ","), ",") {
			if v = strings.TrimSpace(v); v != "" {
				p.Values = append(p.Values, v)
			}
		}
		if len(p.Values) > 0 {
			params = append(params, p)
		}
	}
	return params
}
