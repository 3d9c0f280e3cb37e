package registry

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/karpelesremote/rfcache"
)

// entryView is the JSON shape returned by the inspection API for one
// controller. Key is the same keyFor() hash used for the entry's on-disk
// directory name - the addressable identifier for the single-entry
// endpoint, since RemotePath itself (a full URL for the "http" class)
// isn't safe to carry as one path segment.
type entryView struct {
	Key           string `json:"key"`
	RemotePath    string `json:"remote_path"`
	Status        string `json:"status"`
	CurrentOffset uint64 `json:"current_offset"`
	FileSize      uint64 `json:"file_size"`
	ClassName     string `json:"class_name"`
}

func toView(c *rfcache.Controller) entryView {
	meta := c.Metadata()
	return entryView{
		Key:           keyFor(meta.RemotePath),
		RemotePath:    meta.RemotePath,
		Status:        c.Status().String(),
		CurrentOffset: c.CurrentOffset(),
		FileSize:      meta.FileSize,
		ClassName:     meta.ClassName,
	}
}

// Handler builds an http.Handler exposing read-only registry state:
// GET /entries lists every cached entry; GET /entries/{key} returns one,
// keyed by the same keyFor() hash as the on-disk directory name (not the
// raw remote path, which for "http" entries is a URL and can't survive
// as a single path segment). This never mutates controller state - it
// exists purely for operational visibility, the same spirit as
// Gammanik-distributed-storage's own REST surface built on gorilla/mux.
func (r *Registry) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/entries", r.handleList).Methods(http.MethodGet)
	router.HandleFunc("/entries/{key}", r.handleGet).Methods(http.MethodGet)
	return router
}

func (r *Registry) handleList(w http.ResponseWriter, req *http.Request) {
	snap := r.Snapshot()
	views := make([]entryView, 0, len(snap))
	for _, c := range snap {
		views = append(views, toView(c))
	}
	writeJSON(w, views)
}

func (r *Registry) handleGet(w http.ResponseWriter, req *http.Request) {
	key := mux.Vars(req)["key"]
	c, ok := r.LookupByKey(key)
	if !ok {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, toView(c))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
