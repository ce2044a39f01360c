package pipeline

import "sync"

// Subscriber receives every ingested tick as an individually serialized
// message. Delivery is best-effort: a subscriber whose buffer is full is
// dropped, never waited on.
type Subscriber struct {
	ch        chan []byte
	closeOnce sync.Once
}

func newSubscriber(buffer int) *Subscriber {
	return &Subscriber{ch: make(chan []byte, buffer)}
}

// Messages is closed when the subscriber is removed from the fan-out set.
func (s *Subscriber) Messages() <-chan []byte {
	return s.ch
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
