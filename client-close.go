package torrent

import (
	"context"

	"github.com/anacrolix/log"

	"github.com/marmolejo/bittorrent-client/discovery"
	"github.com/marmolejo/bittorrent-client/internal/tasks"
)

// Close stops discovery for every torrent, closes their swarms, and closes the DHT if the Client
// created it. All of these happen concurrently, and all of them run even if some fail. The first
// failure is returned as a *TeardownError. Later calls wait for the first to finish and return the
// same result.
func (cl *Client) Close() error {
	cl.lock()
	if cl.state >= ClientDestroying {
		cl.unlock()
		<-cl.closed.Done()
		return cl.closeErr
	}
	cl.state = ClientDestroying
	cl.closing.Set()
	cl.bootstrapCancel()
	cl.failPendingAddsLocked(ErrClientClosed)
	cl.unlock()

	// Bootstrap may still be recording what it created.
	<-cl.bootstrapped.Done()

	cl.lock()
	ts := cl.torrents.list()
	cl.torrents = newTorrentRegistry()
	for _, t := range ts {
		t.state = torrentClosing
	}
	var ownedDht discovery.DHT
	if cl.ownsDht {
		ownedDht = cl.dht
	}
	listener := cl.listener
	cl.unlock()

	teardown := make([]tasks.Task, 0, len(ts)+1)
	for _, t := range ts {
		teardown = append(teardown, t.teardownTask())
	}
	if ownedDht != nil {
		teardown = append(teardown, tasks.Task{
			Name: "dht",
			Run: func(context.Context) error {
				return ownedDht.Close()
			},
		})
	}
	err := cl.teardown(teardown)
	if listener != nil {
		if lerr := listener.Close(); lerr != nil {
			cl.logger.Levelf(log.Warning, "closing listener: %v", lerr)
		}
	}

	cl.lock()
	for _, t := range ts {
		t.state = torrentClosed
	}
	cl.state = ClientDestroyed
	cl.closeErr = err
	cl.unlock()
	cl.closed.Set()
	return err
}

// Closed once Close has finished.
func (cl *Client) Closed() <-chan struct{} {
	return cl.closed.Done()
}

func (cl *Client) teardown(ts []tasks.Task) error {
	err := tasks.Run(context.Background(), ts...)
	if err == nil {
		return nil
	}
	task, inner := taskErrorParts(err)
	cl.logger.Levelf(log.Warning, "error tearing down %v: %v", task, inner)
	return &TeardownError{Task: task, Err: inner}
}

func (t *Torrent) teardownTask() tasks.Task {
	return tasks.Task{
		Name: "torrent " + t.infoHash.HexString(),
		Run: func(context.Context) error {
			return t.close()
		},
	}
}
