package web

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes registers the handlers for each of the pages
func Routes(r *mux.Router, t *Templates, net *Network, scale float64, rows, cols int) {
	trainPage := NewTrainPage(t.Clone(), net)
	imagePage := NewImagePage(t.Clone(), net, scale, rows, cols)
	configPage := NewConfigPage(t.Clone(), net)

	r.Handle("/", http.RedirectHandler("/train/", http.StatusFound))
	r.HandleFunc("/train/", trainPage.Base())
	r.HandleFunc("/train/{cmd:(?:start|stop|continue|tune)}", trainPage.Base())
	r.HandleFunc("/tune", trainPage.Tune()).Methods("POST")
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.HandleFunc("/images/", imagePage.Base())
	r.HandleFunc("/images/{opt:(?:all|worst|prev|next|shift)}", imagePage.Setopt())
	r.HandleFunc("/img/{id:[0-9]+}", imagePage.Image())

	r.HandleFunc("/config", configPage.Base())
	r.HandleFunc("/config/save", configPage.Save()).Methods("POST")
	r.HandleFunc("/config/reset", configPage.Reset())
}
