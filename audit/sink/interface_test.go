package sink

import "github.com/pgstrict/pgstrict/audit"

// Compile-time interface verification
var (
	_ audit.Sink = (*KafkaSink)(nil)
	_ audit.Sink = (*NatsSink)(nil)
	_ audit.Sink = (*MockSink)(nil)
)
