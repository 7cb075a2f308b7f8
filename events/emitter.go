// Package events implements the real-time event emit contract consumed by
// the consensus application: emit_event(channel, kind, payload). The hub
// itself (delivery to subscribed clients) is external per spec; this
// package only provides the call interface and in-process fan-out to
// handlers registered with Subscribe.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind is the closed enumeration of event kinds the application emits.
type Kind string

const (
	KindBlockFinalized      Kind = "block_finalized"
	KindRepositoryCreated   Kind = "repository_created"
	KindRepositoryDeleted   Kind = "repository_deleted"
	KindIssueCreated        Kind = "issue_created"
	KindIssueClosed         Kind = "issue_closed"
	KindPullRequestOpened   Kind = "pull_request_opened"
	KindPullRequestMerged   Kind = "pull_request_merged"
	KindOrganizationCreated Kind = "organization_created"
	KindTeamCreated         Kind = "team_created"
	KindTeamMemberAdded     Kind = "team_member_added"
	KindWebhookRegistered   Kind = "webhook_registered"
	KindCIResultRecorded    Kind = "ci_result_recorded"
	KindRefUpdated          Kind = "ref_updated"
	KindObjectsReceived     Kind = "objects_received"
)

// Event is delivered to subscribers of Channel.
type Event struct {
	Channel string         `json:"channel"` // "repo", "org" or "consensus"; the repo key is in Payload, not the channel name
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Handler is a subscriber callback.
type Handler func(Event)

// Emitter is a simple pub/sub broker keyed by channel. Subscribe before
// Emit; delivery is synchronous and failures are non-fatal.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logrus.Entry
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[string][]Handler),
		log:      logrus.WithField("component", "events"),
	}
}

// Subscribe registers h for everything emitted on channel.
func (e *Emitter) Subscribe(channel string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[channel] = append(e.handlers[channel], h)
}

// EmitEvent implements emit_event(channel, kind, payload). Each handler is
// guarded by panic recovery so a misbehaving subscriber cannot halt block
// application.
func (e *Emitter) EmitEvent(channel string, kind Kind, payload map[string]any) {
	e.mu.RLock()
	handlers := e.handlers[channel]
	e.mu.RUnlock()
	if len(handlers) == 0 {
		e.log.WithFields(logrus.Fields{"channel": channel, "kind": kind}).Debug("no subscribers")
		return
	}
	ev := Event{Channel: channel, Kind: kind, Payload: payload}
	for _, h := range handlers {
		e.dispatch(h, ev)
	}
}

func (e *Emitter) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{"channel": ev.Channel, "kind": ev.Kind}).Warnf("handler panicked: %v", r)
		}
	}()
	h(ev)
}
