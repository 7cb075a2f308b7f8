package wiring

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/guts-org/guts-node/txn"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleConsensusStatus serves GET .../consensus/status.
func (s *Server) handleConsensusStatus(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleValidators serves GET .../consensus/validators.
func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	if s.validators == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no validator set configured"})
		return
	}
	snap := s.validators.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"epoch":           s.validators.Epoch,
		"validator_count": len(snap),
		"validators":      snap,
	})
}

// handleMempoolStats serves GET .../consensus/mempool.
func (s *Server) handleMempoolStats(w http.ResponseWriter, r *http.Request) {
	if s.mempool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no mempool configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.mempool.Stats())
}

// handleBlocks serves GET .../consensus/blocks: the current chain tip.
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	if s.finalized == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no block store configured"})
		return
	}
	tip, err := s.finalized.Tip()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tip": tip})
}

// handleBlockByHeight serves GET .../consensus/blocks/<height>.
func (s *Server) handleBlockByHeight(w http.ResponseWriter, r *http.Request) {
	if s.finalized == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no block store configured"})
		return
	}
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "height must be a non-negative integer"})
		return
	}
	fin, err := s.finalized.GetFinalizedByHeight(height)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, fin)
}

// handleSubmitTransaction serves POST .../consensus/transactions: the
// body is a signed txn.Transaction (as produced by wallet.Wallet.NewTx).
// Returns 202 on admission, 503 when consensus is not configured, 400 on
// parse/validation failure.
func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"accepted": false, "error": "consensus not configured"})
		return
	}
	var tx txn.Transaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": err.Error()})
		return
	}
	if err := s.engine.SubmitTransaction(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"accepted": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "transaction_id": tx.ID})
}
