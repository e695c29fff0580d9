// internal/events/event.go
package events

// Ledger event kinds.
const (
	KindTransfer       = "Transfer"
	KindChannelCreated = "ChannelCreated"
	KindChannelSettled = "ChannelSettled"
)

// Application event kinds.
const (
	KindUpload          = "Upload"
	KindPurchaseCreated = "PurchaseCreated"
	KindOrderVerified   = "OrderVerified"
	KindOrderSettled    = "OrderSettled"
)

// Event is a single notification pushed to subscribers. Block is nil for
// events that did not originate on the ledger.
type Event struct {
	Kind  string                 `json:"event"`
	Args  map[string]interface{} `json:"args"`
	Block *uint64                `json:"block"`
}

// AtBlock returns a pointer suitable for Event.Block.
func AtBlock(block uint64) *uint64 {
	return &block
}

// Emitter accepts events for fan-out.
type Emitter interface {
	Publish(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Publish(Event) {}
