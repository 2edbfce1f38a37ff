package server

import (
	"time"

	"github.com/lxzan/gws"
)

const (
	PingInterval = 5 * time.Second
	PingWait     = 30 * time.Minute
)

// sessionSocket keys the *Socket wrapper on the underlying connection's
// session so the event callbacks can find it again.
const sessionSocket = "socket"

type Handler struct {
	dispatcher *Dispatcher
}

func NewWebsocketUpgrader(d *Dispatcher) *gws.Upgrader {
	return gws.NewUpgrader(&Handler{dispatcher: d}, &gws.ServerOption{
		ParallelEnabled:   true,
		Recovery:          gws.Recovery,
		PermessageDeflate: gws.PermessageDeflate{Enabled: true},
	})
}

func (c *Handler) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(PingInterval + PingWait))
}

func (c *Handler) OnClose(socket *gws.Conn, err error) {
	v, ok := socket.Session().Load(sessionSocket)
	if !ok {
		return
	}
	peer := v.(*Socket)
	peer.Close()
	c.dispatcher.Disconnect(peer)
}

func (c *Handler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(PingInterval + PingWait))
	_ = socket.WriteString("pong")
}

func (c *Handler) OnPong(socket *gws.Conn, payload []byte) {}

func (c *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	if b := message.Data.Bytes(); len(b) == 4 && string(b) == "ping" {
		c.OnPing(socket, nil)
		return
	}

	v, ok := socket.Session().Load(sessionSocket)
	if !ok {
		return
	}
	c.dispatcher.Handle(v.(*Socket), message.Bytes())
}
