// Web interface to train the key-point model and view the predictions on the validation set.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/nnet"
	"github.com/migonch/mesh-detection/web"
)

const (
	scale = 2
	rows  = 5
	cols  = 8
)

func main() {
	log.SetFlags(0)
	var addr string
	var auth bool
	flag.StringVar(&addr, "addr", ":8080", "address to listen on")
	flag.BoolVar(&auth, "auth", false, "require login with a local user account")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: web [opts] <experiment_dir>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	conf, err := web.NewConfig(flag.Arg(0))
	nnet.CheckErr(err)
	data, err := img.LoadData(conf.DataSet)
	nnet.CheckErr(err)
	log.Printf("loaded %d samples from %s\n", data.Len(), conf.DataSet)

	net, err := web.NewNetwork(conf, data, nnet.DefaultStructure())
	nnet.CheckErr(err)
	t, err := web.NewTemplates()
	nnet.CheckErr(err)

	r := mux.NewRouter()
	web.Routes(r, t, net, scale, rows, cols)
	if auth {
		r.Use(web.NewAuthMiddleware(nil).Middleware)
	}
	log.Printf("serving web page at http://localhost%s\n", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}
