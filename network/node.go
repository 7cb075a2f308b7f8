package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MessageHandler is called for each received message of a registered
// type.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Node listens for incoming peers and manages outgoing connections,
// multiplexing consensus vote messages, transaction gossip, and P2P
// replication messages over one length-prefixed framed connection per
// peer.
type Node struct {
	nodeID     string
	listenAddr string
	tlsConfig  *tls.Config // nil -> plain TCP
	maxPeers   int
	log        *logrus.Entry

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr. If tlsCfg is
// non-nil the listener and outgoing connections use mTLS.
func NewNode(nodeID, listenAddr string, tlsCfg *tls.Config) *Node {
	return &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
		log:        logrus.WithField("component", "network"),
	}
}

// Handle registers a handler for a message type. Overwrites any previous
// registration.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("network: listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node and closes every peer connection.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr, registers the peer under id, and sends a hello.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	hello, err := json.Marshal(map[string]string{"node_id": n.nodeID})
	if err != nil {
		n.log.Warnf("marshal hello: %v", err)
		return nil
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		n.log.WithField("peer", id).Warnf("send hello: %v", err)
	}
	return nil
}

// Peer returns the connected peer with the given id, or nil.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// PeerIDs returns the currently connected peer IDs.
func (n *Node) PeerIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	return ids
}

// send delivers msg once to every connected peer. A send error to one peer
// is logged and does not stop delivery to the others; the message is not
// retried, and nothing in this package reconnects to that peer.
func (n *Node) send(msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			n.log.WithField("peer", p.ID).Warnf("broadcast: %v", err)
		}
	}
}

// Broadcast implements p2p.Sender: wraps data as a replication message
// and sends it to every peer.
func (n *Node) Broadcast(data []byte) error {
	n.send(Message{Type: MsgReplication, Payload: data})
	return nil
}

// SendTo implements p2p.Sender: wraps data as a replication message and
// sends it to a single addressed peer.
func (n *Node) SendTo(peerID string, data []byte) error {
	p := n.Peer(peerID)
	if p == nil {
		return fmt.Errorf("network: peer %s not connected", peerID)
	}
	return p.Send(Message{Type: MsgReplication, Payload: data})
}

// BroadcastConsensus wraps data (an encoded consensus.Envelope) and sends
// it to every peer.
func (n *Node) BroadcastConsensus(data []byte) {
	n.send(Message{Type: MsgConsensus, Payload: data})
}

// BroadcastTransaction gossips a signed transaction to every peer.
func (n *Node) BroadcastTransaction(data []byte) {
	n.send(Message{Type: MsgTransaction, Payload: data})
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.Warnf("accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			n.log.Warnf("max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("peer", peer.ID).Errorf("readLoop panic: %v", r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}
