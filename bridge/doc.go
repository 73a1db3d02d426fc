// Package bridge turns a single, possibly absent plugin connection into a
// call-with-timeout API.
//
// The bridge is made of four parts:
//   - ConnectionRegistry: holds at most one peer; a new peer evicts the old one
//   - PendingTable: maps in-flight command ids to their continuations and timers
//   - Bridge: builds commands, writes them to the peer and waits for the outcome
//   - Listener: the transport that accepts peers and publishes events
//
// Basic usage:
//
//	b, err := bridge.New(websocket.NewListener())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(ctx, ":9001"); err != nil {
//	    log.Fatal(err) // port could not be bound
//	}
//	defer b.Stop()
//
//	result, err := b.Send(ctx, contracts.CreateFrame, contracts.CreateFrameParams{Width: 100, Height: 50})
//
// Every pending command settles exactly once: with the peer's result, with the
// peer's error, with a timeout after 30 seconds, or with ErrBridgeStopped when
// the bridge stops. Commands are never queued while no peer is attached.
package bridge
