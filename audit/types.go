package audit

// Event is a single recorded enforcement violation
type Event struct {
	ID         uint64 `msgpack:"id" json:"id"`           // Globally unique event ID
	SeqNum     uint64 `msgpack:"seq" json:"seq"`         // Spool sequence, assigned on append
	Time       int64  `msgpack:"ts" json:"time"`         // Unix milliseconds
	Operation  string `msgpack:"op" json:"operation"`    // UPDATE or DELETE
	Mode       string `msgpack:"mode" json:"mode"`       // Enforcement mode at decision time (warn or on)
	Message    string `msgpack:"msg" json:"message"`     // Violation text as reported to the client
	Client     string `msgpack:"client" json:"client"`   // Enforcement surface the query came through
	InstanceID uint64 `msgpack:"inst" json:"instance_id"`

	// Query holds the offending SQL. Texts above the spool's compression
	// threshold are stored in Compressed instead and restored on read.
	Query      string `msgpack:"query,omitempty" json:"query,omitempty"`
	Compressed []byte `msgpack:"zq,omitempty" json:"-"`
}

// Sink represents a destination for audit events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Filter determines whether an audit event should be published
type Filter interface {
	// Match returns true if the event should be published
	Match(operation, client string) bool
}
