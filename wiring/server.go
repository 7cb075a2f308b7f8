// Package wiring assembles the git smart-HTTP endpoints and the
// consensus-inspection HTTP surface (spec §4.11) on top of the registry,
// replication protocol, mempool, validator set, and consensus engine.
package wiring

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/guts-org/guts-node/block"
	"github.com/guts-org/guts-node/consensus"
	"github.com/guts-org/guts-node/mempool"
	"github.com/guts-org/guts-node/p2p"
	"github.com/guts-org/guts-node/repo"
	"github.com/guts-org/guts-node/storage"
)

// Server exposes the git and consensus-inspection HTTP surface.
type Server struct {
	addr      string
	authToken string
	tlsConfig *tls.Config

	registry   *repo.Registry
	proto      *p2p.Protocol
	engine     *consensus.Engine
	mempool    *mempool.Mempool
	validators *block.ValidatorSet
	finalized  *storage.FinalizedStore

	httpSrv *http.Server
	ln      net.Listener
	log     *logrus.Entry
}

// Deps bundles the components Server routes against. finalized and engine
// may be nil in reduced single-process configurations: consensus
// inspection handlers degrade to 503 for the endpoints that need them.
type Deps struct {
	Registry   *repo.Registry
	Protocol   *p2p.Protocol
	Engine     *consensus.Engine
	Mempool    *mempool.Mempool
	Validators *block.ValidatorSet
	Finalized  *storage.FinalizedStore
	AuthToken  string
	TLSConfig  *tls.Config
}

// NewServer builds a Server listening on addr, unstarted.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		addr:       addr,
		authToken:  deps.AuthToken,
		tlsConfig:  deps.TLSConfig,
		registry:   deps.Registry,
		proto:      deps.Protocol,
		engine:     deps.Engine,
		mempool:    deps.Mempool,
		validators: deps.Validators,
		finalized:  deps.Finalized,
		log:        logrus.WithField("component", "wiring"),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.authMiddleware)

	r.HandleFunc("/{owner}/{name}/info/refs", s.handleInfoRefs).Methods(http.MethodGet)
	r.HandleFunc("/{owner}/{name}/git-upload-pack", s.handleUploadPack).Methods(http.MethodPost)
	r.HandleFunc("/{owner}/{name}/git-receive-pack", s.handleReceivePack).Methods(http.MethodPost)

	r.HandleFunc("/consensus/status", s.handleConsensusStatus).Methods(http.MethodGet)
	r.HandleFunc("/consensus/validators", s.handleValidators).Methods(http.MethodGet)
	r.HandleFunc("/consensus/mempool", s.handleMempoolStats).Methods(http.MethodGet)
	r.HandleFunc("/consensus/blocks", s.handleBlocks).Methods(http.MethodGet)
	r.HandleFunc("/consensus/blocks/{height}", s.handleBlockByHeight).Methods(http.MethodGet)
	r.HandleFunc("/consensus/transactions", s.handleSubmitTransaction).Methods(http.MethodPost)

	return r
}

// requestIDHeader carries a request's ID on the request and the response.
const requestIDHeader = "X-Request-Id"

// requestIDMiddleware stamps every response with a request ID, reusing one
// supplied by the client if present and otherwise generating a UUID. The
// ID is set on the response header only: no log line records it and it is
// not forwarded to other nodes.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces Bearer-token auth when a token is configured;
// a missing configuration leaves the server open, matching the teacher's
// rpc.Server default.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && r.Header.Get("Authorization") != "Bearer "+s.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start binds the listener synchronously, then serves in the background.
func (s *Server) Start() error {
	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server, waiting up to 5 seconds for
// in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
