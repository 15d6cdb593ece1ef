package transport

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Node is a single-owner handle on the broker. Everything it advertises or
// subscribes is released by Fini, which must run before the broker's Fini.
type Node struct {
	id        string
	namespace string
	broker    *Broker

	mu   sync.Mutex
	subs []*Subscription
	fini bool
}

func NewNode(broker *Broker, namespace string) *Node {
	return &Node{
		id:        uuid.NewString(),
		namespace: strings.TrimRight(namespace, "/"),
		broker:    broker,
	}
}

func (n *Node) ID() string { return n.id }

// Resolve expands a relative topic name into the node's namespace. Absolute
// names pass through unchanged.
func (n *Node) Resolve(name string) string {
	if strings.HasPrefix(name, "/") || n.namespace == "" {
		return name
	}
	return n.namespace + "/" + name
}

// SubscribeRaw registers handler for topic.
func (n *Node) SubscribeRaw(topic string, handler func([]byte)) (*Subscription, error) {
	if n == nil || n.broker == nil {
		return nil, ErrBrokerNotRunning
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fini {
		return nil, fmt.Errorf("node %s finalized", n.id)
	}
	sub, err := n.broker.subscribe(n.Resolve(topic), handler)
	if err != nil {
		return nil, err
	}
	n.subs = append(n.subs, sub)
	return sub, nil
}

// Unsubscribe releases one subscription early.
func (n *Node) Unsubscribe(sub *Subscription) {
	if n == nil || sub == nil {
		return
	}
	n.mu.Lock()
	for i, candidate := range n.subs {
		if candidate == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
	n.broker.unsubscribe(sub)
}

// ClearBuffers discards pending deliveries on the node's own subscriptions,
// except those listed in keep. Other nodes keep their queues.
func (n *Node) ClearBuffers(keep ...*Subscription) int {
	if n == nil {
		return 0
	}
	n.mu.Lock()
	subs := append([]*Subscription(nil), n.subs...)
	n.mu.Unlock()
	cleared := 0
	for _, sub := range subs {
		if slices.Contains(keep, sub) {
			continue
		}
		cleared += sub.clear()
	}
	return cleared
}

// Fini releases every subscription. It is safe to call more than once.
func (n *Node) Fini() {
	if n == nil {
		return
	}
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.fini = true
	n.mu.Unlock()
	for _, sub := range subs {
		n.broker.unsubscribe(sub)
	}
}

// Publisher sends JSON-encoded messages of type T on one topic.
type Publisher[T any] struct {
	topic  string
	broker *Broker
}

func (p *Publisher[T]) Topic() string { return p.topic }

// Publish encodes msg and hands it to the broker.
func (p *Publisher[T]) Publish(msg T) error {
	if p == nil || p.broker == nil {
		return ErrBrokerNotRunning
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.topic, err)
	}
	return p.broker.Publish(p.topic, data)
}

// Advertise declares that node will publish T on topic.
func Advertise[T any](node *Node, topic string) (*Publisher[T], error) {
	if node == nil || node.broker == nil {
		return nil, ErrBrokerNotRunning
	}
	name := node.Resolve(topic)
	if err := node.broker.advertise(name); err != nil {
		return nil, err
	}
	return &Publisher[T]{topic: name, broker: node.broker}, nil
}

// Subscribe registers fn for messages of type T on topic. Messages that do
// not decode are passed to onError when it is set and otherwise dropped.
func Subscribe[T any](node *Node, topic string, fn func(T), onError func([]byte, error)) (*Subscription, error) {
	return node.SubscribeRaw(topic, func(data []byte) {
		var msg T
		if err := json.Unmarshal(data, &msg); err != nil {
			if onError != nil {
				onError(data, err)
			}
			return
		}
		fn(msg)
	})
}
