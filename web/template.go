package web

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const sessionName = "mesh-detection"

//go:embed assets/*.html
var assets embed.FS

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu    []Link
	Options []Link
	Heading template.HTML
	store   sessions.Store
}

type Link struct {
	Url      string
	Name     string
	Selected bool
	Submit   bool
}

// Load and parse templates and initialise main menu
func NewTemplates() (*Templates, error) {
	var err error
	t := &Templates{}
	t.Template, err = template.ParseFS(assets, "assets/*.html")
	if err != nil {
		return nil, err
	}
	t.store = sessions.NewCookieStore(securecookie.GenerateRandomKey(32))
	t.AddMenuItem(Link{Name: "train", Url: "/train/"})
	t.AddMenuItem(Link{Name: "images", Url: "/images/"})
	t.AddMenuItem(Link{Name: "config", Url: "/config"})
	return t, nil
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
		Options:  append([]Link{}, t.Options...),
		store:    t.store,
	}
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(key.Url, url)
	}
	return t
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

func (t *Templates) SelectOptions(names []string) *Templates {
	for i, key := range t.Options {
		t.Options[i].Selected = false
		for _, name := range names {
			if key.Name == name {
				t.Options[i].Selected = true
			}
		}
	}
	return t
}

// Exec executes the named template with data, writing any error to the response
func (t *Templates) Exec(w http.ResponseWriter, name string, data interface{}) {
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

// Flash adds a message to the session to be shown on the next page load
func (t *Templates) Flash(w http.ResponseWriter, r *http.Request, msg string) {
	sess, err := t.store.Get(r, sessionName)
	if err != nil {
		log.Println("flash: session error:", err)
	}
	sess.AddFlash(msg)
	if err := sess.Save(r, w); err != nil {
		log.Println("flash: error saving session:", err)
	}
}

// Flashes returns and clears any pending messages for this session
func (t *Templates) Flashes(w http.ResponseWriter, r *http.Request) []string {
	sess, err := t.store.Get(r, sessionName)
	if err != nil {
		return nil
	}
	var msgs []string
	for _, f := range sess.Flashes() {
		msgs = append(msgs, fmt.Sprint(f))
	}
	if len(msgs) > 0 {
		sess.Save(r, w)
	}
	return msgs
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
