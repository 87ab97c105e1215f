package web

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/migonch/mesh-detection/img"
)

type ImagePage struct {
	*Templates
	Page   int
	Worst  bool
	Shift  string
	Rows   []int
	Cols   []int
	Width  int
	Height int
	Pages  int
	Total  int
	order  []int
	net    *Network
}

// Base data for handler functions to view the validation images with the actual and predicted key-points
func NewImagePage(t *Templates, net *Network, scale float64, rows, cols int) *ImagePage {
	p := &ImagePage{net: net, Templates: t, Page: 1}
	p.Select("/images")
	for _, name := range []string{"all", "worst", "prev", "next", "shift"} {
		p.AddOption(Link{Name: name, Url: "/images/" + name})
	}
	dims := net.data.Shape()
	p.Width = int(float64(dims[1]) * scale)
	p.Height = int(float64(dims[0]) * scale)
	p.Rows = seq(rows)
	p.Cols = seq(cols)
	return p
}

// Handler function for the main image page
func (p *ImagePage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Total, p.Pages = p.pageCount()
		if p.Page > p.Pages || p.Page < 1 {
			p.Page = 1
		}
		sel := []string{"all"}
		if p.Worst {
			sel = []string{"worst"}
		}
		if p.Shift != "" {
			sel = append(sel, "shift")
		}
		p.SelectOptions(sel)
		p.order = p.ids()
		p.Heading = p.net.heading()
		p.Exec(w, "images", p)
	}
}

// Set option from top menu
func (p *ImagePage) Setopt() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Total, p.Pages = p.pageCount()
		switch mux.Vars(r)["opt"] {
		case "all":
			p.Worst = false
		case "worst":
			p.Worst = true
		case "prev":
			p.Page = mod(p.Page-1, 1, p.Pages)
		case "next":
			p.Page = mod(p.Page+1, 1, p.Pages)
		case "shift":
			if p.Shift == "" {
				p.Shift = strconv.Itoa(rand.Intn(999999))
			} else {
				p.Shift = ""
			}
		}
		http.Redirect(w, r, "/images/", http.StatusFound)
	}
}

func (p *ImagePage) pageCount() (nimg, pages int) {
	nimg = len(p.net.Split.Val)
	n := len(p.Rows) * len(p.Cols)
	pages = (nimg + n - 1) / n
	if pages < 1 {
		pages = 1
	}
	return nimg, pages
}

// validation sample ids in display order
func (p *ImagePage) ids() []int {
	ids := append([]int{}, p.net.Split.Val...)
	if p.Worst {
		sort.SliceStable(ids, func(i, j int) bool { return p.error(ids[i]) > p.error(ids[j]) })
	}
	return ids
}

// mean distance between the predicted and actual points or -1 if there is no prediction
func (p *ImagePage) error(id int) float64 {
	pred, ok := p.net.Pred[id]
	if !ok {
		return -1
	}
	return meanDistance(pred, p.net.data.LoadKeyPoints(id))
}

// Index returns the sample id at this position in the grid or -1 if it is empty.
// The display order is set by Base.
func (p *ImagePage) Index(row, col int) int {
	n := (p.Page-1)*len(p.Rows)*len(p.Cols) + row*len(p.Cols) + col
	if n >= len(p.order) {
		return -1
	}
	return p.order[n]
}

// Label has the id and the mean error for the sample
func (p *ImagePage) Label(id int) string {
	if e := p.error(id); e >= 0 {
		return fmt.Sprintf("%d: %.2f", id, e)
	}
	return strconv.Itoa(id)
}

// Handler function for the image data
func (p *ImagePage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		id, _ := strconv.Atoi(mux.Vars(r)["id"])
		if id < 0 || id >= p.net.data.Len() {
			http.NotFound(w, r)
			return
		}
		m := p.marked(id, r.FormValue("s"))
		w.Header().Set("Content-type", "image/png")
		png.Encode(w, m)
	}
}

// image with the actual and predicted points overlaid, optionally randomly shifted using the given seed
func (p *ImagePage) marked(id int, seed string) image.Image {
	points := [][]float32{p.net.data.LoadKeyPoints(id)}
	colors := []img.RGB{img.TrueColor}
	if pred, ok := p.net.Pred[id]; ok {
		points = append(points, pred)
		colors = append(colors, img.PredColor)
	}
	src := p.net.data.LoadImage(id)
	if s, err := strconv.ParseInt(seed, 10, 64); err == nil && p.net.MaxShift > 0 {
		rng := rand.New(rand.NewSource(s + int64(id)))
		shift := p.net.MaxShift
		dx, dy := rng.Intn(2*shift+1)-shift, rng.Intn(2*shift+1)-shift
		sample := img.Shift(img.Sample{Dims: []int{src.Height, src.Width}, Pix: src.Pix, Points: points[0]}, dx, dy)
		src = img.NewGray(src.Width, src.Height)
		copy(src.Pix, sample.Pix)
		points = [][]float32{sample.Points}
	}
	return img.MarkPoints(src, points, colors)
}

func meanDistance(pred, actual []float32) float64 {
	var sum float64
	var n int
	for i := 0; i+1 < len(actual) && i+1 < len(pred); i += 2 {
		dx, dy := float64(pred[i]-actual[i]), float64(pred[i+1]-actual[i+1])
		if d := math.Hypot(dx, dy); !math.IsNaN(d) {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func mod(i, min, max int) int {
	if i < min {
		i = max
	}
	if i > max {
		i = min
	}
	return i
}
