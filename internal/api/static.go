package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/subcache/internal/storage"
)

// StaticDir serves the regular files directly inside dir. Subdirectories,
// listings and dotfiles (including in-flight temp writes) are never served.
func StaticDir(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "*")
		if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}

		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}

		w.Header().Set("Content-Type", storage.ContentType(filepath.Ext(name)))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}
