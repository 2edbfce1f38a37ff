package server

import (
	"fmt"
	"sync"

	"github.com/lxzan/event_emitter"
	"github.com/lxzan/gws"
)

const (
	topicGlobal = "global"
	sendBuffer  = 256
)

// Session keys.
const (
	sessionUserID   = "userId"
	sessionReadable = "readable"
)

func channelTopic(channelID int64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

// Peer is one live connection as the dispatcher and hub see it: an emitter
// subscriber carrying its authentication state, its visible-channel set and
// a non-blocking outbound queue.
type Peer interface {
	GetSubscriberID() int64
	GetMetadata() event_emitter.Metadata

	// UserID returns the authenticated user behind the peer, 0 before login.
	UserID() int64
	SetUserID(id int64)

	// Readable is the set of channel ids the peer may currently see. The
	// dispatcher replaces the map wholesale inside the exclusive section.
	Readable() map[int64]bool
	SetReadable(channels map[int64]bool)

	// Queue enqueues a frame without blocking; a consumer that falls too
	// far behind is closed rather than stalling the server.
	Queue(payload []byte)
	Close()
}

// Socket is the websocket Peer. Queued frames are drained by a single
// writer goroutine per connection.
type Socket struct {
	*gws.Conn
	id        int64
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(conn *gws.Conn, id int64) *Socket {
	return &Socket{
		Conn: conn,
		id:   id,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Socket) GetSubscriberID() int64 {
	return c.id
}

func (c *Socket) GetMetadata() event_emitter.Metadata {
	return c.Session()
}

func (c *Socket) UserID() int64 {
	v, ok := c.Session().Load(sessionUserID)
	if !ok {
		return 0
	}
	return v.(int64)
}

func (c *Socket) SetUserID(id int64) {
	c.Session().Store(sessionUserID, id)
}

func (c *Socket) Readable() map[int64]bool {
	v, ok := c.Session().Load(sessionReadable)
	if !ok {
		return nil
	}
	return v.(map[int64]bool)
}

func (c *Socket) SetReadable(channels map[int64]bool) {
	c.Session().Store(sessionReadable, channels)
}

func (c *Socket) Queue(payload []byte) {
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		// The buffer holds hundreds of frames; a consumer this far
		// behind is not draining. Closing the connection lets the
		// client observe the loss instead of missing replies silently.
		c.Close()
	}
}

func (c *Socket) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.WriteMessage(gws.OpcodeText, payload); err != nil {
				return
			}
		}
	}
}

func (c *Socket) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Conn != nil {
			c.WriteClose(1000, nil)
		}
	})
}

// Hub tracks live peers and fans notifications out to them, either on an
// emitter topic (global events, per-channel events filtered by each peer's
// readable set) or directly per peer.
type Hub struct {
	emitter *event_emitter.EventEmitter[Peer]

	mu    sync.Mutex
	conns map[int64]Peer
}

func NewHub() *Hub {
	emitter := event_emitter.New[Peer](&event_emitter.Config{
		BucketNum:  16,
		BucketSize: 128,
	})
	return &Hub{
		emitter: emitter,
		conns:   make(map[int64]Peer),
	}
}

// Register wires a new peer into the hub: the global topic plus one
// filtered subscription per existing channel.
func (h *Hub) Register(peer Peer, channelIDs []int64) {
	h.mu.Lock()
	h.conns[peer.GetSubscriberID()] = peer
	h.mu.Unlock()

	h.emitter.Subscribe(peer, topicGlobal, func(subscriber Peer, msg any) {
		subscriber.Queue(msg.([]byte))
	})
	for _, id := range channelIDs {
		h.subscribeChannel(peer, id)
	}
}

// Unregister drops the peer from the registry and from every emitter topic
// it subscribed to. Queue on a closed peer is a no-op, so a publish racing
// the teardown delivers nowhere.
func (h *Hub) Unregister(peer Peer) {
	h.mu.Lock()
	delete(h.conns, peer.GetSubscriberID())
	h.mu.Unlock()

	h.emitter.UnSubscribeAll(peer)
}

func (h *Hub) subscribeChannel(peer Peer, channelID int64) {
	h.emitter.Subscribe(peer, channelTopic(channelID), func(subscriber Peer, msg any) {
		if subscriber.Readable()[channelID] {
			subscriber.Queue(msg.([]byte))
		}
	})
}

// AddChannel subscribes every live peer to a freshly created channel's
// topic.
func (h *Hub) AddChannel(channelID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, peer := range h.conns {
		h.subscribeChannel(peer, channelID)
	}
}

// Publish fans a frame out to a topic's subscribers.
func (h *Hub) Publish(topic string, payload []byte) {
	h.emitter.Publish(topic, payload)
}

// Each visits every live peer; used for per-connection filtered pushes.
func (h *Hub) Each(fn func(Peer)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, peer := range h.conns {
		fn(peer)
	}
}

// CloseUser disconnects every peer authenticated as the user.
func (h *Hub) CloseUser(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, peer := range h.conns {
		if peer.UserID() == userID {
			delete(h.conns, id)
			peer.Close()
		}
	}
}
