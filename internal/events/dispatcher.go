package events

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
)

// ErrUnknownEvent is returned when subscribing to a name outside of the
// fixed set
var ErrUnknownEvent = errors.New("unknown event")

// Event passed to every subscriber. Data holds the payload type documented
// on each Name.
type Event struct {
	Name Name
	At   time.Time
	Data any
}

// Handler of some event. Returning an error, or panicking, is logged and
// does not affect other subscribers.
type Handler func(Event) error

// Subscription token, used to unsubscribe
type Subscription uint64

type subscriber struct {
	id Subscription
	h  Handler
}

// Dispatcher is a typed publish/subscribe registry. Callbacks for an event run
// in subscription order, synchronously, on the publishing goroutine.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID Subscription
	subs   map[Name][]subscriber
	errLog func(msg string, a ...any)
}

func NewDispatcher() *Dispatcher {
	subs := make(map[Name][]subscriber, len(names))
	for n := range names {
		subs[n] = nil
	}
	return &Dispatcher{
		subs:   subs,
		errLog: ancli.Errf,
	}
}

// Subscribe appends h to the subscribers of name
func (d *Dispatcher) Subscribe(name Name, h Handler) (Subscription, error) {
	if !name.Valid() {
		return 0, fmt.Errorf("%w: '%v'", ErrUnknownEvent, name)
	}
	if h == nil {
		return 0, errors.New("handler may not be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subs[name] = append(d.subs[name], subscriber{id: d.nextID, h: h})
	return d.nextID, nil
}

// Unsubscribe removes the registration identified by sub. Returns false if
// it wasn't registered under name.
func (d *Dispatcher) Unsubscribe(name Name, sub Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subs[name]
	for i, s := range list {
		if s.id == sub {
			// Copy to not disturb any publish iterating over the old slice
			updated := make([]subscriber, 0, len(list)-1)
			updated = append(updated, list[:i]...)
			updated = append(updated, list[i+1:]...)
			d.subs[name] = updated
			return true
		}
	}
	return false
}

// Count of subscribers for name
func (d *Dispatcher) Count(name Name) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[name])
}

// Publish data to every subscriber currently registered for name. No
// subscribers is a no-op.
func (d *Dispatcher) Publish(name Name, data any) {
	d.mu.RLock()
	list := d.subs[name]
	d.mu.RUnlock()
	if len(list) == 0 {
		return
	}
	ev := Event{Name: name, At: time.Now(), Data: data}
	for _, s := range list {
		if err := d.call(s.h, ev); err != nil {
			d.errLog("subscriber %v of '%v' failed: %v", s.id, name, err)
		}
	}
}

func (d *Dispatcher) call(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ev)
}
