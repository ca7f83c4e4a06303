// Package a2dpsink provides the node layer of a Bluetooth A2DP audio sink.
//
// A Node owns one input port and one transmit engine. It exposes the tunable
// latency props, enumerates the PCM format offered by the negotiated SBC
// configuration, negotiates buffers with the producer and forwards Start and
// Pause commands to the engine goroutine.
//
// # Getting Started
//
//	tr, err := transport.NewUDPTransport("127.0.0.1:5004", transport.Config{
//	    ReadMTU:       672,
//	    WriteMTU:      672,
//	    Configuration: conf.Bytes(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	node, err := a2dpsink.NewNode(tr, producer, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	formats, _ := node.EnumFormats()
//	_ = node.SetFormat(ctx, &formats[0])
//	params, _ := node.BufferParams(ctx)
//	_ = node.UseBuffers(ctx, allocate(params))
//	_ = node.SendCommand(ctx, a2dpsink.CommandStart)
//
// # Producers
//
// The producer implements engine.Callbacks. NeedInput runs on the engine
// goroutine and may push buffers synchronously through the Pusher it is given;
// from any other goroutine buffers are pushed with Node.Push. Every pushed
// buffer is returned exactly once through ReuseBuffer.
//
// # Props
//
//   - min_latency: frames requested per pull and the buffer size unit (default 1024)
//   - max_latency: upper latency bound reported to the graph (default 1024)
//
// Both accept [1, 2147483647]. SetProps(nil) restores the defaults.
package a2dpsink
