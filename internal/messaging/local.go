package messaging

import "sync"

// LocalBroker delivers messages synchronously to in-process subscribers.
// Publish returns after every handler has run, so delivery order matches
// publish order per publisher.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte)
}

// NewLocalBroker returns an empty LocalBroker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[int]func([]byte))}
}

func (b *LocalBroker) PublishRoom(roomID string, data []byte) error {
	b.publish(SubjectRoom+"."+roomID, data)
	return nil
}

func (b *LocalBroker) SubscribeRoom(roomID string, handler func(data []byte)) (Subscription, error) {
	return b.subscribe(SubjectRoom+"."+roomID, handler), nil
}

func (b *LocalBroker) PublishRoomDeleted(roomID string) error {
	b.publish(SubjectRoomDeleted, []byte(roomID))
	return nil
}

func (b *LocalBroker) SubscribeRoomDeleted(handler func(roomID string)) (Subscription, error) {
	return b.subscribe(SubjectRoomDeleted, func(data []byte) {
		handler(string(data))
	}), nil
}

// Close drops every subscription.
func (b *LocalBroker) Close() {
	b.mu.Lock()
	b.subs = make(map[string]map[int]func([]byte))
	b.mu.Unlock()
}

func (b *LocalBroker) publish(subject string, data []byte) {
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
}

func (b *LocalBroker) subscribe(subject string, handler func([]byte)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func([]byte))
	}
	b.subs[subject][id] = handler
	return &localSubscription{broker: b, subject: subject, id: id}
}

type localSubscription struct {
	broker  *LocalBroker
	subject string
	id      int
}

func (s *localSubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if handlers, ok := s.broker.subs[s.subject]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.broker.subs, s.subject)
		}
	}
	return nil
}
