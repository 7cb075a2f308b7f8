// Package p2p implements the announce/sync-request/object-data/ref-update
// replication protocol that keeps each node's object store eventually
// consistent with its peers.
package p2p

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/guts-org/guts-node/objstore"
	"github.com/guts-org/guts-node/repo"
)

// MsgKind tags a replication message for wire dispatch, carried alongside
// the network layer's own message envelope (see package network).
type MsgKind string

const (
	KindRepoAnnounce MsgKind = "repo_announce"
	KindSyncRequest  MsgKind = "sync_request"
	KindObjectData   MsgKind = "object_data"
	KindRefUpdate    MsgKind = "ref_update"
)

// RepoAnnounce tells a peer what changed in a repository: the object IDs
// a push added (BroadcastUpdate passes its newObjects, not the repository's
// full object set) plus the full direct-ref list.
type RepoAnnounce struct {
	RepoKey   string              `msgpack:"repo_key"`
	ObjectIDs []objstore.ObjectID `msgpack:"object_ids"`
	Refs      []RefEntry          `msgpack:"refs"`
}

// RefEntry is one (name, target) pair inside a RepoAnnounce or applied by
// a RefUpdate.
type RefEntry struct {
	Name string            `msgpack:"name"`
	ID   objstore.ObjectID `msgpack:"id"`
}

// SyncRequest asks a peer for the full objects behind Want.
type SyncRequest struct {
	RepoKey string              `msgpack:"repo_key"`
	Want    []objstore.ObjectID `msgpack:"want"`
}

// ObjectData carries full objects in response to a SyncRequest.
type ObjectData struct {
	RepoKey string               `msgpack:"repo_key"`
	Objects []*objstore.GitObject `msgpack:"objects"`
}

// RefUpdate announces a single reference change.
type RefUpdate struct {
	RepoKey string            `msgpack:"repo_key"`
	RefName string            `msgpack:"ref_name"`
	OldID   objstore.ObjectID `msgpack:"old_id"`
	NewID   objstore.ObjectID `msgpack:"new_id"`
}

// Envelope wraps a Kind-tagged, msgpack-encoded payload for transport over
// the network layer's generic byte-message channel.
type Envelope struct {
	Kind    MsgKind `msgpack:"kind"`
	Payload []byte  `msgpack:"payload"`
}

// Encode marshals v into an Envelope of the given kind.
func Encode(kind MsgKind, v any) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode %s: %w", kind, err)
	}
	return msgpack.Marshal(Envelope{Kind: kind, Payload: payload})
}

// DecodeEnvelope unwraps the outer Envelope without decoding its payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("p2p: decode envelope: %w", err)
	}
	return env, nil
}

// Sender abstracts the underlying peer transport (package network): a
// broadcast primitive and an addressed send. Each delivers at most once:
// a failed delivery is not retried.
type Sender interface {
	Broadcast(data []byte) error
	SendTo(peerID string, data []byte) error
}

// Protocol implements the four-message replication state machine over a
// repo.Registry and a Sender.
type Protocol struct {
	registry *repo.Registry
	sender   Sender
	log      *logrus.Entry
}

// New builds a replication Protocol bound to registry for repo lookups
// and sender for outbound delivery.
func New(registry *repo.Registry, sender Sender) *Protocol {
	return &Protocol{registry: registry, sender: sender, log: logrus.WithField("component", "p2p")}
}

// HandleRepoAnnounce: get-or-create the local repo; compute missing
// objects; if none missing, apply refs; else reply with a SyncRequest to
// fromPeer.
func (p *Protocol) HandleRepoAnnounce(fromPeer string, msg RepoAnnounce) error {
	r, err := p.registry.Get(msg.RepoKey, true)
	if err != nil {
		return fmt.Errorf("p2p: repo announce: %w", err)
	}
	var missing []objstore.ObjectID
	for _, id := range msg.ObjectIDs {
		if !r.Objects.Contains(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		p.applyRefs(r, msg.Refs)
		return nil
	}
	req := SyncRequest{RepoKey: msg.RepoKey, Want: missing}
	data, err := Encode(KindSyncRequest, req)
	if err != nil {
		return err
	}
	return p.sender.SendTo(fromPeer, data)
}

// HandleSyncRequest: for each wanted id the local store has, include the
// full object in a reply ObjectData; unknown objects are omitted and
// logged. A missing repository is logged at warn with no reply (silent).
func (p *Protocol) HandleSyncRequest(fromPeer string, msg SyncRequest) error {
	r, err := p.registry.Get(msg.RepoKey, false)
	if err != nil {
		p.log.WithField("repo", msg.RepoKey).Warn("sync request for unknown repository")
		return nil
	}
	var objs []*objstore.GitObject
	for _, id := range msg.Want {
		obj, err := r.Objects.Get(id)
		if err != nil {
			p.log.WithFields(logrus.Fields{"repo": msg.RepoKey, "object": id}).Debug("sync request: object not present, omitting")
			continue
		}
		objs = append(objs, obj)
	}
	data, err := Encode(KindObjectData, ObjectData{RepoKey: msg.RepoKey, Objects: objs})
	if err != nil {
		return err
	}
	return p.sender.SendTo(fromPeer, data)
}

// HandleObjectData inserts every object into the local store. Insertion
// is idempotent.
func (p *Protocol) HandleObjectData(msg ObjectData) error {
	r, err := p.registry.Get(msg.RepoKey, true)
	if err != nil {
		return fmt.Errorf("p2p: object data: %w", err)
	}
	for _, obj := range msg.Objects {
		if _, err := r.Objects.Put(obj); err != nil {
			return fmt.Errorf("p2p: object data: store %s: %w", obj.ID, err)
		}
	}
	return nil
}

// HandleRefUpdate applies the ref change, or — if NewID is non-zero and
// not yet present locally — defers by requesting it first.
func (p *Protocol) HandleRefUpdate(fromPeer string, msg RefUpdate) error {
	r, err := p.registry.Get(msg.RepoKey, true)
	if err != nil {
		return fmt.Errorf("p2p: ref update: %w", err)
	}
	if msg.NewID != objstore.ZeroID && msg.NewID != "" && !r.Objects.Contains(msg.NewID) {
		req := SyncRequest{RepoKey: msg.RepoKey, Want: []objstore.ObjectID{msg.NewID}}
		data, err := Encode(KindSyncRequest, req)
		if err != nil {
			return err
		}
		return p.sender.SendTo(fromPeer, data)
	}
	p.applyRefs(r, []RefEntry{{Name: msg.RefName, ID: msg.NewID}})
	return nil
}

func (p *Protocol) applyRefs(r *repo.Repository, refs []RefEntry) {
	for _, ref := range refs {
		if ref.ID == objstore.ZeroID || ref.ID == "" {
			r.Refs.Delete(ref.Name)
			continue
		}
		if err := r.Refs.Set(ref.Name, ref.ID); err != nil {
			p.log.WithField("ref", ref.Name).Warnf("apply ref update: %v", err)
		}
	}
}

// BroadcastUpdate computes newObjects and the full direct-ref list for a
// repository and announces them to every connected peer. Called by the
// wiring layer after a successful receive-pack.
func (p *Protocol) BroadcastUpdate(repoKey string, r *repo.Repository, newObjects []objstore.ObjectID) error {
	direct := r.Refs.ListAllDirect()
	refs := make([]RefEntry, len(direct))
	for i, d := range direct {
		refs[i] = RefEntry{Name: d.Name, ID: d.ID}
	}
	announce := RepoAnnounce{RepoKey: repoKey, ObjectIDs: newObjects, Refs: refs}
	data, err := Encode(KindRepoAnnounce, announce)
	if err != nil {
		return err
	}
	return p.sender.Broadcast(data)
}

// Dispatch decodes env's payload by its Kind and invokes the matching
// handler. Malformed messages are dropped with a warning.
func (p *Protocol) Dispatch(fromPeer string, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		p.log.WithField("peer", fromPeer).Warnf("malformed replication message: %v", err)
		return
	}
	var handleErr error
	switch env.Kind {
	case KindRepoAnnounce:
		var msg RepoAnnounce
		if handleErr = msgpack.Unmarshal(env.Payload, &msg); handleErr == nil {
			handleErr = p.HandleRepoAnnounce(fromPeer, msg)
		}
	case KindSyncRequest:
		var msg SyncRequest
		if handleErr = msgpack.Unmarshal(env.Payload, &msg); handleErr == nil {
			handleErr = p.HandleSyncRequest(fromPeer, msg)
		}
	case KindObjectData:
		var msg ObjectData
		if handleErr = msgpack.Unmarshal(env.Payload, &msg); handleErr == nil {
			handleErr = p.HandleObjectData(msg)
		}
	case KindRefUpdate:
		var msg RefUpdate
		if handleErr = msgpack.Unmarshal(env.Payload, &msg); handleErr == nil {
			handleErr = p.HandleRefUpdate(fromPeer, msg)
		}
	default:
		p.log.WithField("kind", env.Kind).Warn("unknown replication message kind")
		return
	}
	if handleErr != nil {
		p.log.WithFields(logrus.Fields{"peer": fromPeer, "kind": env.Kind}).Warnf("replication handler error: %v", handleErr)
	}
}
