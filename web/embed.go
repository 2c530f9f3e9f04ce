// Package web embeds the classroom chat page.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reserved prefixes belong to the server and never fall back to the page.
var reserved = []string{"/api/", "/ws", "/metrics"}

// SPAHandler serves the embedded chat page and its assets. Any other GET
// path renders the page so links like /discussions/{id} survive a reload;
// paths under a server prefix get 404 instead.
func SPAHandler() http.Handler {
	dist, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: embedded dist directory missing: " + err.Error())
	}
	files := http.FileServer(http.FS(dist))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range reserved {
			if strings.HasPrefix(r.URL.Path, prefix) {
				http.NotFound(w, r)
				return
			}
		}

		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name != "" && name != "index.html" && exists(dist, name) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			files.ServeHTTP(w, r)
			return
		}

		// The page itself is never cached.
		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		files.ServeHTTP(w, r)
	})
}

func exists(dist fs.FS, name string) bool {
	stat, err := fs.Stat(dist, name)
	return err == nil && !stat.IsDir()
}
