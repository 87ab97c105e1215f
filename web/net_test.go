package web

import (
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/migonch/mesh-detection/img"
	"github.com/migonch/mesh-detection/nnet"
)

func TestRunConfig(t *testing.T) {
	conf := nnet.DefaultConfig()
	param := []TuneParams{
		{Name: "Eta", Values: []string{"0.1", "0.05", "0.15"}},
		{Name: "TrainBatch", Values: []string{"10", "20"}},
		{Name: "MaxShift", Values: []string{"3", "5"}},
	}
	runs, err := getRunConfig(conf, param)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 12 {
		t.Errorf("got %d runs expect 12", len(runs))
	}
	if runs[0].Eta != 0.1 || runs[0].TrainBatch != 10 || runs[0].MaxShift != 3 {
		t.Error("first run", tuneParams(runs[0]))
	}
	param[1].Values = []string{"x"}
	if _, err := getRunConfig(conf, param); err == nil {
		t.Error("expecting error for invalid value")
	}
}

func TestParseTuners(t *testing.T) {
	params := parseTuners(map[string][]string{"Eta": {"0.1, 0.01"}, "MaxShift": {""}})
	if len(params) != 1 || params[0].Name != "Eta" || len(params[0].Values) != 2 {
		t.Errorf("got %+v", params)
	}
}

func TestUpdateConfig(t *testing.T) {
	conf := nnet.DefaultConfig()
	fields := getFields(conf)
	for _, f := range fields {
		if readOnly[f.Name] {
			t.Error("read only field", f.Name)
		}
	}
	form := map[string]string{}
	for _, f := range fields {
		form[f.Name] = f.Value
		if f.Boolean {
			form[f.Name] = "false"
		}
	}
	form["Eta"] = "0.01"
	form["Normalise"] = "true"
	conf2, errs := updateConfig(conf, fields, func(key string) string { return form[key] })
	if errs != 0 || conf2.Eta != 0.01 || !conf2.Normalise || conf2.MaxEpoch != conf.MaxEpoch {
		t.Errorf("errs=%d config=%+v", errs, conf2)
	}
	form["MaxEpoch"] = "many"
	if _, errs = updateConfig(conf, fields, func(key string) string { return form[key] }); errs != 1 {
		t.Error("expecting 1 error got", errs)
	}
	form["MaxEpoch"] = strconv.Itoa(conf.MaxEpoch)
	conf.Layers = []nnet.LayerConfig{{Type: "flatten"}}
	if conf2, _ = updateConfig(conf, fields, func(key string) string { return form[key] }); len(conf2.Layers) != 1 {
		t.Error("layers should be kept if the head is unchanged")
	}
	form["Head"] = nnet.DenseHead
	if conf2, _ = updateConfig(conf, fields, func(key string) string { return form[key] }); conf2.Layers != nil {
		t.Error("layers should be cleared when the head is changed")
	}
}

func TestMeanDistance(t *testing.T) {
	nan := float32(math.NaN())
	d := meanDistance([]float32{3, 4, 1, 1}, []float32{0, 0, nan, nan})
	if d != 5 {
		t.Error("got", d)
	}
}

func TestImageOrder(t *testing.T) {
	data := testData(4)
	offset := func(id int, dx, dy float32) []float32 {
		p := data.LoadKeyPoints(id)
		return []float32{p[0] + dx, p[1] + dy}
	}
	net := &Network{
		Experiment: &nnet.Experiment{Split: nnet.Split{Val: []int{0, 1, 2, 3}}},
		Conf:       &Config{ExpDir: "test"},
		data:       data,
		Pred:       map[int][]float32{0: {1, 1}, 1: offset(1, 3, 4), 2: offset(2, 0, 1)},
	}
	tmpl, err := NewTemplates()
	if err != nil {
		t.Fatal(err)
	}
	p := NewImagePage(tmpl, net, 1, 1, 3)
	p.Worst = true
	w := httptest.NewRecorder()
	p.Base()(w, httptest.NewRequest("GET", "/images/", nil))
	if w.Code != http.StatusOK {
		t.Fatal("got status", w.Code)
	}
	// sample 0 has no known points and sample 3 has no prediction
	if !reflect.DeepEqual(p.order, []int{1, 2, 0, 3}) {
		t.Error("got order", p.order)
	}
	body := w.Body.String()
	i1, i2, i0 := strings.Index(body, "/img/1?"), strings.Index(body, "/img/2?"), strings.Index(body, "/img/0?")
	if i1 < 0 || i2 < i1 || i0 < i2 || strings.Contains(body, "/img/3?") {
		t.Errorf("unexpected image order in page\n%s", body)
	}
	if p.Index(0, 0) != 1 || p.Pages != 2 {
		t.Errorf("got first id %d pages %d", p.Index(0, 0), p.Pages)
	}
}

func TestAuth(t *testing.T) {
	mw := NewAuthMiddleware(func(user, pass string, r *http.Request) bool {
		return user == "test" && pass == "secret"
	})
	h := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Error("expecting unauthorized got", w.Code)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.SetBasicAuth("test", "secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatal("login failed", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != cookieName {
		t.Fatal("expecting auth cookie got", cookies)
	}
	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Error("cookie login failed", w.Code)
	}
}

func testData(n int) *img.FaceData {
	rng := rand.New(rand.NewSource(1))
	var images []*img.GrayImage
	var points [][]float32
	for i := 0; i < n; i++ {
		m := img.NewGray(8, 8)
		x, y := 1+rng.Intn(6), 1+rng.Intn(6)
		m.Pix[y+8*x] = 1
		p := []float32{float32(x), float32(y)}
		if i%4 == 0 {
			p[0], p[1] = float32(math.NaN()), float32(math.NaN())
		}
		images = append(images, m)
		points = append(points, p)
	}
	return img.NewFaceData([]string{"a_x", "a_y"}, images, points)
}

func testServer(t *testing.T) (*Network, http.Handler) {
	conf, err := NewConfig(filepath.Join(t.TempDir(), "exp"))
	if err != nil {
		t.Fatal(err)
	}
	conf.MaxEpoch = 2
	conf.TrainBatch = 4
	conf.MaxShift = 1
	conf.Threads = 1
	s := nnet.Structure{
		Levels: []nnet.Level{{Down: []int{1, 4, 4}, Up: []int{4}}},
		Bottom: []int{4, 8, 4},
	}
	net, err := NewNetwork(conf, testData(40), s)
	if err != nil {
		t.Fatal(err)
	}
	tmpl, err := NewTemplates()
	if err != nil {
		t.Fatal(err)
	}
	r := mux.NewRouter()
	Routes(r, tmpl, net, 2, 2, 3)
	return net, r
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", url, nil))
	return w
}

func TestPages(t *testing.T) {
	net, h := testServer(t)
	for _, url := range []string{"/train/", "/stats", "/images/", "/config"} {
		if w := get(t, h, url); w.Code != http.StatusOK {
			t.Errorf("%s: status %d: %s", url, w.Code, w.Body)
		}
	}
	if w := get(t, h, "/train/start"); w.Code != http.StatusFound {
		t.Fatal("start: got status", w.Code)
	}
	deadline := time.Now().Add(time.Minute)
	for {
		net.Lock()
		running := net.running
		net.Unlock()
		if !running || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if net.Epoch != 2 || len(net.History) != 1 {
		t.Fatalf("epoch=%d history=%d", net.Epoch, len(net.History))
	}
	if len(net.Pred) != len(net.Split.Val) {
		t.Errorf("have %d predictions for %d validation samples", len(net.Pred), len(net.Split.Val))
	}
	if _, err := os.Stat(filepath.Join(net.Conf.ExpDir, nnet.ModelFile)); err != nil {
		t.Error(err)
	}
	w := get(t, h, "/stats")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<svg") {
		t.Error("stats page missing plots")
	}
	id := net.Split.Val[0]
	w = get(t, h, "/img/"+strconv.Itoa(id)+"?s=42")
	if w.Code != http.StatusOK || w.Header().Get("Content-type") != "image/png" {
		t.Error("image: got status", w.Code)
	}
	if w = get(t, h, "/img/9999"); w.Code != http.StatusNotFound {
		t.Error("expecting not found got", w.Code)
	}
	if w = get(t, h, "/images/worst"); w.Code != http.StatusFound {
		t.Error("setopt: got status", w.Code)
	}
	if w = get(t, h, "/images/"); w.Code != http.StatusOK {
		t.Error("images: got status", w.Code)
	}
}
