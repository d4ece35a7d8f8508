package loop

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownConfirmation reports a resolution for an id that is not parked.
var ErrUnknownConfirmation = errors.New("loop: unknown confirmation id")

// confirmationBroker is the pending-confirmation table. The loop registers
// a call id before emitting EventConfirmationNeeded and waits on the
// returned channel; the caller resolves asynchronously via Approve or Deny.
// Confirmations never expire on their own; an unresolved id is abandoned
// only by cancellation.
type confirmationBroker struct {
	mu      sync.Mutex
	pending map[string]chan bool
}

func newConfirmationBroker() *confirmationBroker {
	return &confirmationBroker{pending: map[string]chan bool{}}
}

func (b *confirmationBroker) register(id string) (<-chan bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.pending[id]; exists {
		return nil, fmt.Errorf("loop: confirmation id %q already pending", id)
	}
	ch := make(chan bool, 1)
	b.pending[id] = ch
	return ch, nil
}

func (b *confirmationBroker) resolve(id string, approved bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.pending[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownConfirmation, id)
	}
	delete(b.pending, id)
	ch <- approved
	return nil
}

func (b *confirmationBroker) abandon(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}
