package event

import (
	"sync"

	"trade_sim/internal/domain"
)

// bookMessagePool provides sync.Pool for high-frequency message allocation.
// Use this to reduce GC pressure in the hotpath.
//
// Usage:
//
//	msg := AcquireBookMessage()
//	if err := Decode(payload, msg); err != nil { ... }
//	// ... hand to the single writer ...
//	ReleaseBookMessage(msg) // after the writer is done with it
var bookMessagePool = sync.Pool{
	New: func() interface{} {
		return &BookMessage{
			Bids: make([]domain.PriceLevel, 0, 64),
			Asks: make([]domain.PriceLevel, 0, 64),
		}
	},
}

// AcquireBookMessage gets a BookMessage from the pool.
// The returned message has zero values and must be initialized.
func AcquireBookMessage() *BookMessage {
	return bookMessagePool.Get().(*BookMessage)
}

// ReleaseBookMessage returns a BookMessage to the pool.
// Level slices keep their capacity; all other fields are zeroed.
func ReleaseBookMessage(msg *BookMessage) {
	if msg == nil {
		return
	}
	msg.reset()
	bookMessagePool.Put(msg)
}

// Warmup pre-allocates messages to reduce GC pressure at startup.
// It acquires and releases a batch of messages.
func Warmup() {
	const batchSize = 256

	msgs := make([]*BookMessage, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		msgs = append(msgs, AcquireBookMessage())
	}
	for _, m := range msgs {
		ReleaseBookMessage(m)
	}
}
