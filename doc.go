/*
Package torrent finds peers for torrents. A Client brings up a listen port and a DHT once, then for
every torrent added merges peers from the DHT and from trackers into one stream, handed to a Swarm.

Simple example:

	c, _ := torrent.NewClient(nil)
	defer c.Close()
	t, _, _ := c.AddTorrent(identifier.Text("magnet:?xt=urn:btih:ZOCMZQIPFFW7OLLMIC5HUB6BPCSDEOQU"))
	<-time.After(time.Minute)
	log.Printf("%v peers", t.Stats().Peers)
*/
package torrent
