package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/fluxlog/fluxlog"
	"github.com/fluxlog/fluxlog/adapters/muxrouter"
	"github.com/fluxlog/fluxlog/config"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("[example] failed to load config: %v", err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/check", checkHandler).Methods(http.MethodGet, http.MethodPost)

	rec := fluxlog.New()
	rec.OnError(func(err error) {
		log.Errorf("[example] response log write failed: %v", err)
	})
	if err := rec.Attach(muxrouter.Wrap(r), cfg); err != nil {
		log.Fatalf("[example] failed to attach recorder: %v", err)
	}
	defer rec.Close()

	log.Info("[example] listening on :8080")
	log.Info("[example] test endpoint: http://localhost:8080/check")
	if err := http.ListenAndServe(":8080", r); err != nil {
		log.Fatalf("could not start server: %v", err)
	}
}

func checkHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
