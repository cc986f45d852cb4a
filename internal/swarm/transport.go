package swarm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/telemetry"
	"github.com/luacghee/D2SLAM/internal/types"
)

// dispatchTick is the §4.6 "periodic scan on a 10 ms tick" that drains
// received messages and dispatches callbacks, decoupling the read loop
// (which polls with a short read deadline, recv_msg_duration, to notice
// context cancellation promptly, per the teacher's listener.go) from
// callback delivery.
const dispatchTick = 10 * time.Millisecond

// Transport is the at-most-once, best-effort UDP broadcast layer (C9):
// no acknowledgement or retransmit, datagrams that fail to decode are
// simply dropped, and there is no ordering check: datagrams are
// dispatched in arrival order. Grounded directly on the
// teacher's UDPListener (internal/lidar/network/listener.go): a
// context-cancellable read loop polling with a short read deadline, plus
// its own dispatch goroutine in place of the teacher's stats-logging one.
type Transport struct {
	socket        Socket
	broadcastAddr *net.UDPAddr
	readDeadline  time.Duration

	mu      sync.Mutex
	pending []Message

	OnDescriptor func(types.VisualImageDescArray)
	OnLoopEdge   func(types.LoopEdge)
}

// NewTransport binds a listening socket at cfg's swarm_listen_addr and
// resolves the broadcast address it will send to.
func NewTransport(factory SocketFactory, cfg *config.Config) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.GetSwarmListenAddr())
	if err != nil {
		return nil, fmt.Errorf("swarm: resolve listen address: %w", err)
	}
	socket, err := factory.ListenUDP(laddr)
	if err != nil {
		return nil, fmt.Errorf("swarm: listen: %w", err)
	}
	baddr, err := net.ResolveUDPAddr("udp", cfg.GetSwarmBroadcastAddr())
	if err != nil {
		return nil, fmt.Errorf("swarm: resolve broadcast address: %w", err)
	}
	return &Transport{
		socket:        socket,
		broadcastAddr: baddr,
		readDeadline:  cfg.GetRecvMsgDuration(),
	}, nil
}

// BroadcastDescriptor sends desc to the swarm broadcast address.
func (t *Transport) BroadcastDescriptor(desc types.VisualImageDescArray) error {
	b, err := EncodeDescriptor(desc)
	if err != nil {
		return err
	}
	_, err = t.socket.WriteTo(b, t.broadcastAddr)
	return err
}

// BroadcastLoopEdge sends edge to the swarm broadcast address.
func (t *Transport) BroadcastLoopEdge(edge types.LoopEdge) error {
	b, err := EncodeLoopEdge(edge)
	if err != nil {
		return err
	}
	_, err = t.socket.WriteTo(b, t.broadcastAddr)
	return err
}

// Run drives the transport's own thread (§5 "Network thread"): a read
// loop feeding a pending queue, and a 10ms dispatch ticker that drains it
// into OnDescriptor/OnLoopEdge. Blocks until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	go t.readLoop(ctx)

	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.socket.Close()
			return ctx.Err()
		case <-ticker.C:
			t.dispatch()
		}
	}
}

func (t *Transport) readLoop(ctx context.Context) {
	buf := make([]byte, 65536)
	deadline := t.readDeadline
	if deadline <= 0 {
		deadline = 100 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		t.socket.SetReadDeadline(time.Now().Add(deadline))
		n, _, err := t.socket.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			telemetry.Logf("swarm: read error: %v", err)
			continue
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			telemetry.Logf("swarm: dropping malformed datagram: %v", err)
			continue
		}
		t.mu.Lock()
		t.pending = append(t.pending, msg)
		t.mu.Unlock()
	}
}

func (t *Transport) dispatch() {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, msg := range batch {
		switch {
		case msg.Desc != nil && t.OnDescriptor != nil:
			t.OnDescriptor(*msg.Desc)
		case msg.Edge != nil && t.OnLoopEdge != nil:
			t.OnLoopEdge(*msg.Edge)
		}
	}
}
