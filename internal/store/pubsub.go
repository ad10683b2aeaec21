package store

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one payload received on a channel
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages until closed or its context ends
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// localSubscription is the in-process stand-in for redis.PubSub
type localSubscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newLocalSubscription(channels []string) *localSubscription {
	channelMap := make(map[string]bool, len(channels))
	for _, ch := range channels {
		channelMap[ch] = true
	}
	return &localSubscription{
		channels: channelMap,
		msgChan:  make(chan *Message, 100),
		closeCh:  make(chan struct{}),
	}
}

func (s *localSubscription) Channel() <-chan *Message {
	return s.msgChan
}

func (s *localSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.msgChan)
	}
	return nil
}

// deliver never blocks; a full buffer drops the message
func (s *localSubscription) deliver(msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return
	}
	select {
	case s.msgChan <- msg:
	default:
	}
}

// PubSubHub fans local publishes out to subscribers
type PubSubHub struct {
	subscribers map[string][]*localSubscription
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*localSubscription),
	}
}

func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) Subscription {
	sub := newLocalSubscription(channels)

	h.mu.Lock()
	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *PubSubHub) remove(sub *localSubscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, channel := range channels {
		subs := h.subscribers[channel]
		for i, s := range subs {
			if s == sub {
				h.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[channel]) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

func (h *PubSubHub) Publish(channel, payload string) {
	h.mu.RLock()
	subs := make([]*localSubscription, len(h.subscribers[channel]))
	copy(subs, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	for _, sub := range subs {
		sub.deliver(msg)
	}
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan *Message
	once sync.Once
}

func newRedisSubscription(ctx context.Context, ps *redis.PubSub) *redisSubscription {
	s := &redisSubscription{ps: ps, out: make(chan *Message, 100)}
	go func() {
		defer close(s.out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case s.out <- &Message{Channel: m.Channel, Payload: m.Payload}:
				default:
				}
			}
		}
	}()
	return s
}

func (s *redisSubscription) Channel() <-chan *Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
