package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dfgordon/a2kit/disk"
	"github.com/dfgordon/a2kit/loggy"
)

/*
	Read-only HTTP query surface over one mounted image: catalog,
	geometry, stats and file images. Mutating verbs stay in the CLI and
	shell.
*/

type apiServer struct {
	fs  *disk.DiskFS
	img disk.DiskImage
}

func apiError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, disk.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, disk.ErrUnsupported), errors.Is(err, disk.ErrNotAFile):
		code = http.StatusBadRequest
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func apiJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *apiServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.fs.Catalog(q.Get("path"), q.Get("pattern"))
	if err != nil {
		apiError(w, err)
		return
	}
	apiJSON(w, entries)
}

func (s *apiServer) handleGeometry(w http.ResponseWriter, r *http.Request) {
	apiJSON(w, s.img.Geometry())
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.fs.Stats()
	if err != nil {
		apiError(w, err)
		return
	}
	apiJSON(w, st)
}

func (s *apiServer) handleFile(w http.ResponseWriter, r *http.Request) {

	full := strings.Trim(r.URL.Query().Get("path"), "/")
	if full == "" {
		apiError(w, disk.ErrNotFound)
		return
	}

	dir, name := "", full
	if i := strings.LastIndex(full, "/"); i >= 0 {
		dir, name = full[:i], full[i+1:]
	}

	entry, data, err := s.fs.ReadFile(dir, name)
	if err != nil {
		apiError(w, err)
		return
	}

	fimg := disk.PackEntry(s.fs.Family(), dir, entry, data)
	apiJSON(w, fimg)
}

// serveAPI blocks on the listener until the process exits.
func serveAPI(addr string, fs *disk.DiskFS, img disk.DiskImage) error {

	log := loggy.Get(0)

	s := &apiServer{fs: fs, img: img}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/catalog", s.handleCatalog).Methods("GET")
	r.HandleFunc("/api/v1/geometry", s.handleGeometry).Methods("GET")
	r.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/v1/file", s.handleFile).Methods("GET")

	log.Logf("api listening on %s", addr)
	return http.ListenAndServe(addr, r)
}
