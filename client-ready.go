package torrent

import (
	"context"
	"net"

	"github.com/anacrolix/log"

	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/internal/tasks"
)

type pendingAdd struct {
	spec   torrentSpec
	result chan addResult
}

type addResult struct {
	t   *Torrent
	new bool
	err error
}

// Each bootstrap task writes only its own field.
type bootstrapResults struct {
	listener net.Listener
	dht      discovery.DHT
}

// A port is acquired unless one was configured, and a DHT created unless it's disabled or one was
// given.
func (cl *Client) bootstrapTasks() (ts []tasks.Task, res *bootstrapResults) {
	res = &bootstrapResults{}
	if cl.config.ListenPort == 0 {
		ts = append(ts, tasks.Task{
			Name: "listen-port",
			Run: func(ctx context.Context) (err error) {
				res.listener, err = listenTcp(ctx, cl.config.ListenHost("tcp"), 0)
				return
			},
		})
	}
	if !cl.config.NoDHT && cl.config.DhtServer == nil {
		ts = append(ts, tasks.Task{
			Name: "dht",
			Run: func(ctx context.Context) error {
				d, err := cl.config.DhtFactory(discovery.DHTConfig{
					Host:          cl.config.ListenHost("udp"),
					Port:          cl.config.DhtPort,
					NodeID:        cl.config.NodeID,
					StartingNodes: cl.config.DhtStartingNodes("udp"),
					Logger:        cl.logger,
					Configure:     cl.config.ConfigureAnacrolixDhtServer,
				})
				if err != nil {
					return err
				}
				res.dht = d
				select {
				case <-d.Ready():
					return d.BootstrapErr()
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}
	return
}

func (cl *Client) runBootstrap(ctx context.Context, ts []tasks.Task, res *bootstrapResults) {
	// One failure is enough to fail bootstrap, so the rest needn't finish.
	err := tasks.RunFailFast(ctx, ts...)
	cl.lock()
	defer cl.unlock()
	defer cl.bootstrapped.Set()
	// Whatever was created is the Client's to release, even if bootstrapping failed.
	if res.listener != nil {
		cl.listener = res.listener
		cl.port = listenerPort(res.listener)
	}
	if res.dht != nil {
		cl.dht = res.dht
		cl.ownsDht = true
	}
	if cl.state != ClientBootstrapping {
		return
	}
	if err != nil {
		task, inner := taskErrorParts(err)
		bootstrapErr := &BootstrapError{Task: task, Err: inner}
		cl.bootstrapErr = bootstrapErr
		cl.logger.Levelf(log.Error, "%v", bootstrapErr)
		cl.failPendingAddsLocked(bootstrapErr)
		cl._mu.Defer(func() { cl.config.Callbacks.error(nil, bootstrapErr) })
		return
	}
	cl.state = ClientReady
	cl.logger.Levelf(log.Debug, "ready (port %v, dht %v)", cl.port, cl.dhtSourceLocked())
	cl._mu.Defer(cl.config.Callbacks.ready)
	// Replayed in the order they were made, before anyone else can see the Client as ready.
	pending := cl.pendingAdds
	cl.pendingAdds = nil
	for _, p := range pending {
		t, new, err := cl.addTorrentLocked(p.spec)
		p.result <- addResult{t, new, err}
	}
	cl.ready.Set()
}

func (cl *Client) failPendingAddsLocked(err error) {
	for _, p := range cl.pendingAdds {
		cl.discardSwarmLocked(p.spec)
		p.result <- addResult{err: err}
	}
	cl.pendingAdds = nil
}

func (cl *Client) dhtSourceLocked() string {
	switch {
	case cl.dht == nil:
		return "disabled"
	case cl.ownsDht:
		return "owned"
	default:
		return "external"
	}
}

// Closed once the Client is ready and adds queued while bootstrapping have been applied.
func (cl *Client) Ready() <-chan struct{} {
	return cl.ready.Done()
}

// WaitReady returns nil once the Client is ready, the *BootstrapError if bootstrapping failed,
// ErrClientClosed if the Client is closed first, or the ctx error.
func (cl *Client) WaitReady(ctx context.Context) error {
	select {
	case <-cl.ready.Done():
		return nil
	case <-cl.bootstrapped.Done():
	case <-cl.closing.Done():
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	cl.rLock()
	defer cl.rUnlock()
	switch {
	case cl.state == ClientReady:
		return nil
	case cl.bootstrapErr != nil:
		return cl.bootstrapErr
	default:
		return ErrClientClosed
	}
}

func (cl *Client) numPendingAdds() int {
	cl.rLock()
	defer cl.rUnlock()
	return len(cl.pendingAdds)
}
