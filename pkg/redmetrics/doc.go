// Package redmetrics buffers gameplay events and state snapshots and relays
// them to a RedMetrics collector.
//
// A Connection owns one session: its configuration, the server-assigned
// player id, two in-memory queues and a flush loop. Typical use:
//
//	conn := redmetrics.New()
//	if err := conn.Connect(ctx, cfg); err != nil { ... }
//	d := conn.PostEvent(redmetrics.Record{"type": "start", "section": []int{1, 2}})
//	res, err := d.Wait(ctx) // resolves after the next flush
//	conn.Disconnect(ctx)
//
// Connect runs a handshake (status check, game version lookup, player
// creation) and starts a loop that flushes both queues every BufferingDelay.
// A zero BufferingDelay flushes as soon as records are posted.
//
// Every record posted between two flushes shares one *Delivery. The flush
// that claims those records settles it with the accepted counts or an error
// wrapping ErrDelivery. Drained records are never retried.
//
// Disconnect stops the loop, flushes once more, then clears the queues,
// player id, configuration and player info. Records that could not be sent
// settle their Delivery with ErrDisconnected.
package redmetrics
