package main

import (
	"fmt"
	"net/http"

	"github.com/icexin/gocraft-gridsync/proto"
	"github.com/icexin/gocraft-gridsync/world"
)

// blocksHandler lists the stored blocks of one dimension, one
// "x y z material" line each. The dimension comes from the dim query
// parameter.
func blocksHandler(store *world.Store, defaultDim string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dim := r.URL.Query().Get("dim")
		if dim == "" {
			dim = defaultDim
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err := store.RangeBlocks(dim, func(pos proto.Vec3, material string) {
			fmt.Fprintf(w, "%d %d %d %s\n", pos.X, pos.Y, pos.Z, material)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
