// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dump

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Handler serves single pages: GET ?page=N returns raw bytes of page N.
// Without the parameter page 0 is served. Page count and size are in the
// response headers so a client can walk the whole device.
func Handler(p *Pager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		n := 0
		if v := r.URL.Query().Get("page"); v != "" {
			var err error
			n, err = strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
		}

		page, err := p.Page(n)
		if errors.Is(err, ErrNoPage) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			log.Info().Err(err).Int("page", n).Msg("Dump page read failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(page)))
		w.Header().Set("X-Dump-Pages", strconv.Itoa(p.Pages()))
		w.Header().Set("X-Dump-Page-Size", strconv.Itoa(p.PageSize()))

		if r.Method == http.MethodGet {
			w.Write(page)
		}
	})
}
