package relay

// command is the closed set of messages handled by the relay loop.
type command interface{ isCommand() }

type baseCommand struct{}

func (baseCommand) isCommand() {}

type setTargetCmd struct {
	baseCommand
	url   string
	reply chan setTargetReply
}

type setTargetReply struct {
	url string
	err error
}

type statusCmd struct {
	baseCommand
	reply chan Status
}

type registerCmd struct {
	baseCommand
	sink  Sink
	reply chan error
}

type unregisterCmd struct {
	baseCommand
	id string
}

// sessionEvent carries an upstream event tagged with the generation of the
// session that produced it.
type sessionEvent struct {
	baseCommand
	gen   uint64
	event Event
}

type watchdogCmd struct {
	baseCommand
	gen uint64
}

type retryCmd struct {
	baseCommand
	gen uint64
}

// Event is something that happened on an upstream session.
type Event interface{ isEvent() }

type baseEvent struct{}

func (baseEvent) isEvent() {}

// Connected reports the upstream response headers.
type Connected struct {
	baseEvent
	StatusCode int
	Name       string
	Genre      string
	Bitrate    int
}

// Chunk carries bytes read from the upstream. Data is never reused by the
// session, so it can be shared by every listener.
type Chunk struct {
	baseEvent
	Data []byte
}

// Ended reports that the upstream closed the stream cleanly.
type Ended struct {
	baseEvent
}

// Failed reports a connect or read error.
type Failed struct {
	baseEvent
	Err error
}
