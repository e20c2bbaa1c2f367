package events

import (
	log "github.com/sirupsen/logrus"
)

// Kind names one of the three broadcast channels of the simulation.
type Kind string

const (
	Market Kind = "market"
	Order  Kind = "order"
	Fill   Kind = "fill"
)

// Listener receives every payload published on a kind it subscribed to.
// A nil payload on the Market kind signals a plain tick.
type Listener interface {
	Update(payload any)
}

// Bus is a synchronous publish/subscribe dispatcher. Notify invokes every
// subscribed listener before returning; there is no queuing across kinds.
//
// Dispatch order is part of the contract: listeners are invoked in the order
// they subscribed. The backtest runner relies on that to process broker fills
// before strategy logic on each bar.
type Bus struct {
	listeners map[Kind][]Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[Kind][]Listener)}
}

// Subscribe appends l to the kind's dispatch list. Subscribing the same
// listener twice is a no-op.
func (b *Bus) Subscribe(kind Kind, l Listener) {
	for _, cur := range b.listeners[kind] {
		if cur == l {
			return
		}
	}
	b.listeners[kind] = append(b.listeners[kind], l)
	log.WithFields(log.Fields{"kind": kind}).Debug("listener subscribed")
}

// Unsubscribe removes exactly l from the kind's dispatch list, preserving the
// order of the remaining listeners.
func (b *Bus) Unsubscribe(kind Kind, l Listener) {
	cur := b.listeners[kind]
	for i, reg := range cur {
		if reg == l {
			b.listeners[kind] = append(cur[:i:i], cur[i+1:]...)
			log.WithFields(log.Fields{"kind": kind}).Debug("listener unsubscribed")
			return
		}
	}
}

// Notify synchronously invokes Update on every listener of kind. Listeners
// may publish further events or unsubscribe while being notified; the
// dispatch list is snapshotted per call.
func (b *Bus) Notify(kind Kind, payload any) {
	snapshot := b.listeners[kind]
	for _, l := range snapshot {
		l.Update(payload)
	}
}
