package topics

import "sync"

// Index is a bidirectional topic <-> connection membership index.
// Both views are updated under the same lock, so a pair is visible in
// both or in neither.
type Index struct {
	topics map[string]map[string]struct{} // topic -> set of connection IDs
	conns  map[string]map[string]struct{} // connection ID -> set of topics
	mu     sync.RWMutex
}

// New creates an empty index.
func New() *Index {
	return &Index{
		topics: make(map[string]map[string]struct{}),
		conns:  make(map[string]map[string]struct{}),
	}
}

// Subscribe adds connID to topic. It reports whether the pair was new.
func (x *Index) Subscribe(connID, topic string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	subs, ok := x.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		x.topics[topic] = subs
	}
	if _, exists := subs[connID]; exists {
		return false
	}
	subs[connID] = struct{}{}

	owned, ok := x.conns[connID]
	if !ok {
		owned = make(map[string]struct{})
		x.conns[connID] = owned
	}
	owned[topic] = struct{}{}
	return true
}

// Unsubscribe removes connID from topic. It reports whether the pair existed.
func (x *Index) Unsubscribe(connID, topic string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	subs, ok := x.topics[topic]
	if !ok {
		return false
	}
	if _, exists := subs[connID]; !exists {
		return false
	}
	x.remove(connID, topic)
	return true
}

// UnsubscribeAll removes every subscription held by connID and returns
// the topics it left.
func (x *Index) UnsubscribeAll(connID string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	owned, ok := x.conns[connID]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(owned))
	for topic := range owned {
		left = append(left, topic)
	}
	for _, topic := range left {
		x.remove(connID, topic)
	}
	return left
}

// remove must be called with x.mu held for writing. Empty sets are pruned.
func (x *Index) remove(connID, topic string) {
	if subs, ok := x.topics[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(x.topics, topic)
		}
	}
	if owned, ok := x.conns[connID]; ok {
		delete(owned, topic)
		if len(owned) == 0 {
			delete(x.conns, connID)
		}
	}
}

// Subscribers returns the connection IDs subscribed to topic.
func (x *Index) Subscribers(topic string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return keys(x.topics[topic])
}

// Subscriptions returns the topics connID is subscribed to.
func (x *Index) Subscriptions(connID string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return keys(x.conns[connID])
}

// HasSubscription reports whether connID is subscribed to topic.
func (x *Index) HasSubscription(connID, topic string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.topics[topic][connID]
	return ok
}

// TopicCount returns the number of topics with at least one subscriber.
func (x *Index) TopicCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.topics)
}

// SubscriptionCount returns the number of distinct (connection, topic) pairs.
func (x *Index) SubscriptionCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, owned := range x.conns {
		n += len(owned)
	}
	return n
}

// Topics returns topic names with their subscriber counts.
func (x *Index) Topics() map[string]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	result := make(map[string]int, len(x.topics))
	for topic, subs := range x.topics {
		result[topic] = len(subs)
	}
	return result
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
