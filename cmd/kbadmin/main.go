// Command kbadmin wires together the object store, index and topic store
// into a running knowledge base and exposes a small administrative HTTP
// surface (status, stats, rebuild, migrate) for operators. It is not the
// knowledge base's primary interface: external collaborators (agents,
// ingest pipelines) are expected to embed the kb package directly rather
// than go through HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"kbstore/config"
	"kbstore/kb"
	"kbstore/logger"
	"kbstore/objectstore"
)

var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", ":8420", "address to listen on")
	backend := flag.String("backend", "fs", "storage backend: fs or sqlite")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kbadmin v%s (built %s)\n", Version, BuildDate)
		os.Exit(0)
	}

	cfg := config.Load()
	logger.Configure()
	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		logger.Fatal("invalid log level: %v", err)
	}
	if traceSubsystems := os.Getenv("KBSTORE_TRACE_SUBSYSTEMS"); traceSubsystems != "" {
		subsystems := strings.Split(traceSubsystems, ",")
		for i, s := range subsystems {
			subsystems[i] = strings.TrimSpace(s)
		}
		logger.EnableTrace(subsystems...)
	}

	if cfg.RootPath == "" {
		logger.Fatal("KBSTORE_ROOT_PATH must be set")
	}

	logger.Info("starting kbadmin with log level %s, backend %s", strings.ToUpper(logger.GetLogLevel()), *backend)

	var store objectstore.Store
	switch *backend {
	case "sqlite":
		s, err := objectstore.NewSQLiteStore(cfg.RootPath)
		if err != nil {
			logger.Fatal("failed to open sqlite store: %v", err)
		}
		s.SetLockPollInterval(cfg.LockPollInterval)
		store = s
	default:
		s, err := objectstore.NewFSStore(cfg.RootPath)
		if err != nil {
			logger.Fatal("failed to open filesystem store: %v", err)
		}
		s.SetLockPollInterval(cfg.LockPollInterval)
		store = s
	}

	knowledgeBase := kb.New(cfg, store)

	server := &adminServer{kb: knowledgeBase}
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", server.handleStatus).Methods("GET")
	api.HandleFunc("/stats", server.handleStats).Methods("GET")
	api.HandleFunc("/rebuild", server.handleRebuild).Methods("POST")
	api.HandleFunc("/migrate", server.handleMigrate).Methods("POST")

	logger.Info("listening on %s", *addr)
	if err := http.ListenAndServe(*addr, router); err != nil {
		logger.Fatal("server error: %v", err)
	}
}

type adminServer struct {
	kb *kb.KnowledgeBase
}

func (s *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *adminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	result := s.kb.GetStats(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *adminServer) handleRebuild(w http.ResponseWriter, r *http.Request) {
	result := s.kb.RebuildIndex(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *adminServer) handleMigrate(w http.ResponseWriter, r *http.Request) {
	result, err := s.kb.MigrateIndex(context.Background())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
