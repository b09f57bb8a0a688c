// Package link drives the command/response exchange with one tracker.
//
// A Dispatcher sits between application code and a Transport. It assigns
// serial numbers, builds and fragments frames, reassembles incoming
// sub-packets, correlates responses to requests by serial and publishes
// decoded reports on a channel.
//
// # Concurrency
//
// The dispatcher runs as a single goroutine that owns the serial counter,
// the reassembler and the table of pending requests. Public methods only
// exchange messages with it, so they are safe for concurrent use.
//
// Reply-bearing requests are single flight: one is outstanding at a time
// and later ones wait in a FIFO queue. Each resolves exactly once, with
// the response, a timeout, ctx cancellation, disconnection or close.
// A response that arrives after its request resolved is logged and
// dropped.
//
// # Usage
//
//	d := link.New(transport)
//	defer d.Close()
//
//	reply, err := d.Request(ctx, protocol.CmdFindDevice, nil, 3*time.Second)
//	if err != nil {
//	    return err
//	}
//	if reply.Status() != protocol.StatusSuccess {
//	    return fmt.Errorf("device refused: %s", reply.Status())
//	}
//
//	for msg := range d.Messages() {
//	    fmt.Println(msg)
//	}
package link
