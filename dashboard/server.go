// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package dashboard serves a read-only web view over the job store:
// JSON endpoints for status and job listings, an HTML page with periodic
// refresh, and a WebSocket channel pushing live state. It never mutates
// the store; open the store read-only to enforce this at the database
// level.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/olivere/queuectl"
)

// Storer is the read-only subset of queuectl.Store the dashboard needs.
type Storer interface {
	CountsByState(ctx context.Context) (*queuectl.Stats, error)
	List(ctx context.Context, req *queuectl.ListRequest) ([]*queuectl.Job, error)
	Get(ctx context.Context, id string) (*queuectl.Job, error)
}

// Server is a simple web server with a WebSocket backend.
type Server struct {
	st     Storer
	logger queuectl.Logger
	hub    *hub
}

// ServerOption is an options provider for Server.
type ServerOption func(*Server)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger queuectl.Logger) ServerOption {
	return func(srv *Server) {
		if logger != nil {
			srv.logger = logger
		}
	}
}

// New initializes a new Server reading from st.
func New(st Storer, options ...ServerOption) *Server {
	srv := &Server{
		st:  st,
		hub: newHub(),
	}
	for _, opt := range options {
		opt(srv)
	}
	if srv.logger == nil {
		srv.logger = nopLogger{}
	}
	return srv
}

// Handler returns the HTTP handler serving the dashboard routes.
func (srv *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.handleStatus).Methods("GET")
	r.HandleFunc("/api/jobs", srv.handleJobs).Methods("GET")
	r.HandleFunc("/api/jobs/{id}", srv.handleJob).Methods("GET")
	r.Handle("/ws", wsserver{srv: srv})
	r.HandleFunc("/", srv.handleIndex).Methods("GET")
	return r
}

// Serve starts the web server at the given address. It blocks until the
// listener fails or ctx is cancelled.
func (srv *Server) Serve(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go srv.hub.run(ctx)
	go srv.watch(ctx)

	hs := &http.Server{Addr: addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()
	err := hs.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// State is the current state of the job queue, as pushed to WebSocket
// clients.
type State struct {
	Type       string           `json:"type"`
	Stats      *queuectl.Stats  `json:"stats,omitempty"`
	Pending    []*queuectl.Job  `json:"pending,omitempty"`
	Processing []*queuectl.Job  `json:"processing,omitempty"`
	Dead       []*queuectl.Job  `json:"dead,omitempty"`
}

// watch periodically reads the store and broadcasts the state to all
// connected WebSocket clients.
func (srv *Server) watch(ctx context.Context) {
	t := time.NewTicker(1 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			state, err := srv.currentState(ctx)
			if err != nil {
				srv.logger.Printf("dashboard: error reading state: %v", err)
				continue
			}
			payload, err := json.Marshal(state)
			if err != nil {
				srv.logger.Printf("dashboard: error encoding state: %v", err)
				continue
			}
			srv.hub.broadcast <- payload
		case <-ctx.Done():
			return
		}
	}
}

func (srv *Server) currentState(ctx context.Context) (*State, error) {
	state := &State{Type: "SET_STATE"}
	stats, err := srv.st.CountsByState(ctx)
	if err != nil {
		return nil, err
	}
	state.Stats = stats
	if state.Pending, err = srv.st.List(ctx, &queuectl.ListRequest{State: queuectl.Pending, Limit: 10}); err != nil {
		return nil, err
	}
	if state.Processing, err = srv.st.List(ctx, &queuectl.ListRequest{State: queuectl.Processing, Limit: 10}); err != nil {
		return nil, err
	}
	if state.Dead, err = srv.st.List(ctx, &queuectl.ListRequest{State: queuectl.Dead, Limit: 10}); err != nil {
		return nil, err
	}
	return state, nil
}

// -- HTTP handlers --

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := srv.st.CountsByState(r.Context())
	if err != nil {
		srv.logger.Printf("dashboard: error reading counts: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (srv *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	req := &queuectl.ListRequest{Limit: 50}
	q := r.URL.Query()
	if state := q.Get("state"); state != "" {
		if !queuectl.ValidState(state) {
			http.Error(w, "unknown state", http.StatusBadRequest)
			return
		}
		req.State = state
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		req.Offset = n
	}
	jobs, err := srv.st.List(r.Context(), req)
	if err != nil {
		srv.logger.Printf("dashboard: error listing jobs: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*queuectl.Job{}
	}
	writeJSON(w, jobs)
}

func (srv *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := srv.st.Get(r.Context(), id)
	if err == queuectl.ErrNotFound {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		srv.logger.Printf("dashboard: error reading job %s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, job)
}

func (srv *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{}) {}
