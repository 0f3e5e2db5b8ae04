package workflow

import (
	"github.com/moazbuilds/codemachine/pkg/events"
)

// Adapter is the contract a UI adapter implements to observe a run. Multiple
// adapters may connect simultaneously; each receives the full event stream
// in publish order.
type Adapter interface {
	// Connect subscribes the adapter to the event bus.
	Connect(bus *events.Bus)

	// Disconnect unsubscribes the adapter.
	Disconnect()

	// Start begins rendering or recording.
	Start() error

	// Stop halts the adapter.
	Stop() error

	// IsRunning reports whether the adapter is started.
	IsRunning() bool

	// IsConnected reports whether the adapter is subscribed.
	IsConnected() bool
}

// SignalBinder is implemented by adapters that surface user actions — skip,
// quit, checkpoint resolution — by firing the corresponding process signals.
type SignalBinder interface {
	BindSignals(signals *Signals)
}
