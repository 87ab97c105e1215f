package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
	"github.com/msteinert/pam"
)

const (
	cookieName  = "mesh-detection-auth"
	cookieValue = "authenticated"
)

// AuthFunc checks the username and password from a basic auth request
type AuthFunc func(user, pass string, r *http.Request) bool

type AuthMiddleware struct {
	sc   *securecookie.SecureCookie
	opts httpauth.AuthOptions
}

// Setup new middleware for authenticating requests. If check is nil then users are checked with PAM.
func NewAuthMiddleware(check AuthFunc) AuthMiddleware {
	if check == nil {
		check = PamAuth
	}
	hashKey := securecookie.GenerateRandomKey(32)
	blockKey := securecookie.GenerateRandomKey(32)
	return AuthMiddleware{
		sc:   securecookie.New(hashKey, blockKey),
		opts: httpauth.AuthOptions{Realm: "Restricted", AuthFunc: check},
	}
}

// If session cookie is not present then use basic auth to login and set a cookie.
func (mw AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(cookieName); err == nil {
			var value string
			if err = mw.sc.Decode(cookieName, cookie.Value, &value); err == nil && value == cookieValue {
				next.ServeHTTP(w, r)
				return
			}
		}
		httpauth.BasicAuth(mw.opts)(mw.setCookie(next)).ServeHTTP(w, r)
	})
}

func (mw AuthMiddleware) setCookie(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if encoded, err := mw.sc.Encode(cookieName, cookieValue); err == nil {
			http.SetCookie(w, &http.Cookie{Name: cookieName, Value: encoded, Path: "/", HttpOnly: true})
		} else {
			log.Println("error encoding cookie:", err)
		}
		h.ServeHTTP(w, r)
	})
}

// PamAuth checks the user and password against the local system accounts
func PamAuth(user, pass string, r *http.Request) bool {
	t, err := pam.StartFunc("", "", func(s pam.Style, msg string) (string, error) {
		switch s {
		case pam.PromptEchoOn:
			return user, nil
		case pam.PromptEchoOff:
			return pass, nil
		default:
			return "", errors.New("unexpected style")
		}
	})
	if err != nil {
		log.Println("pam auth error:", err)
		return false
	}
	ok := t.Authenticate(0) == nil
	log.Println("auth", user, ok)
	return ok
}
