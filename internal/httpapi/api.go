package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/lojhan/chainkv/internal/hashtable"
	"github.com/lojhan/chainkv/internal/store"
)

const keyParam = "key"

type API struct {
	store  *store.Store
	logger *zap.Logger
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type setRequest struct {
	Value *string `json:"value"`
}

type keysResponse struct {
	Keys []string `json:"keys"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(s *store.Store, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{store: s, logger: logger}
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/keys", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/keys/{"+keyParam+"}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/keys/{"+keyParam+"}", a.handleSet).Methods(http.MethodPut)
	r.HandleFunc("/keys/{"+keyParam+"}", a.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	return r
}

// Handler returns the router wrapped with panic recovery and an access log
// written through the logger at info level.
func (a *API) Handler() http.Handler {
	access := &zapio.Writer{Log: a.logger.Named("http"), Level: zapcore.InfoLevel}
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{a.logger}),
		handlers.PrintRecoveryStack(false),
	)
	return handlers.CombinedLoggingHandler(access, recovery(a.Router()))
}

type recoveryLogger struct {
	logger *zap.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("http handler panic", zap.String("panic", fmt.Sprint(v...)))
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)[keyParam]

	value, ok := a.store.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, keyValue{Key: key, Value: value})
}

func (a *API) handleSet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)[keyParam]

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing value"})
		return
	}

	created, err := a.store.Set(key, *req.Value)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, keyValue{Key: key, Value: *req.Value})
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)[keyParam]

	if _, err := a.store.Delete(key); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	keys, err := a.store.Keys(r.URL.Query().Get("pattern"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, keysResponse{Keys: keys})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Stats())
}

func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, hashtable.ErrDestroyed) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "store is closed"})
		return
	}
	// the mutation was applied but not journaled
	a.logger.Error("store write failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
