package wiring

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/guts-org/guts-node/objstore"
	"github.com/guts-org/guts-node/pack"
	"github.com/guts-org/guts-node/repo"
)

func (s *Server) repoFromPath(r *http.Request, autoCreate bool) (*repo.Repository, string, error) {
	vars := mux.Vars(r)
	key := vars["owner"] + "/" + vars["name"]
	rp, err := s.registry.Get(key, autoCreate)
	return rp, key, err
}

// handleInfoRefs serves the ref-advertisement response for
// GET .../info/refs?service=git-upload-pack|git-receive-pack.
func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service != "git-upload-pack" && service != "git-receive-pack" {
		http.Error(w, "unsupported service", http.StatusBadRequest)
		return
	}
	rp, _, err := s.repoFromPath(r, service == "git-receive-pack")
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var buf bytes.Buffer
	if err := pack.AdvertiseRefs(&buf, service, rp.Refs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-"+service+"-advertisement")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleUploadPack serves POST .../git-upload-pack: parses the
// want/have negotiation, walks the reachable object set, and streams a
// pack over the side-band.
func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	rp, _, err := s.repoFromPath(r, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	body := bufio.NewReader(io.LimitReader(r.Body, 64<<20))
	wh, err := pack.ParseUploadPackRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	objs, err := pack.ReachableObjects(rp.Objects, wh.Wants, wh.Haves)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	packBytes, err := pack.Build(objs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := pack.WriteSideBandPack(&buf, packBytes); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleReceivePack serves POST .../git-receive-pack: parses ref-update
// commands and the pack body, inserts objects, applies ref changes, and
// broadcasts the result to peers.
func (s *Server) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	rp, key, err := s.repoFromPath(r, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	body := bufio.NewReader(io.LimitReader(r.Body, 256<<20))
	cmds, err := pack.ParseReceivePackCommands(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rest, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var newObjects []objstore.ObjectID
	var unpackErr error
	if len(rest) > 0 {
		newObjects, unpackErr = pack.Parse(rest, rp.Objects)
	}
	report := pack.ApplyReceivePackCommands(rp.Refs, cmds)

	order := make([]string, len(cmds))
	for i, c := range cmds {
		order[i] = c.RefName
	}
	var buf bytes.Buffer
	if err := pack.WriteReportStatus(&buf, unpackErr, report, order); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())

	if unpackErr == nil && s.proto != nil {
		if err := s.proto.BroadcastUpdate(key, rp, newObjects); err != nil {
			s.log.WithField("repo", key).Warnf("broadcast update: %v", err)
		}
	}
}
