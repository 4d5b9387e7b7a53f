// Event dispatch for the DDIL controller.
//
// The original design called subscriber callbacks synchronously from the
// monitoring cycle. Here events are pushed onto a bounded queue consumed by a
// dedicated dispatcher goroutine, so a slow subscriber cannot stall path
// monitoring. When the queue is full the event is dropped with a warning;
// callback panics are recovered and logged.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/model"
)

// Callback receives one controller event. Callbacks run on the dispatcher
// goroutine, not on the monitoring cycle.
type Callback func(event model.Event)

// Forwarder delivers events to an external destination (e.g. webhook
// subscribers). Forwarders run on the dispatcher goroutine as well.
type Forwarder interface {
	Forward(ctx context.Context, event model.Event) error
}

// dispatcher owns the event queue and the callback registry.
type dispatcher struct {
	queue chan model.Event

	mutexForCallbacks sync.RWMutex
	callbacks         map[model.EventType][]Callback

	forwarders []Forwarder

	stopChannel    chan struct{}
	stoppedChannel chan struct{}
}

// forwardTimeout bounds a single external delivery so one dead webhook
// cannot back up the queue.
const forwardTimeout = 3 * time.Second

func newDispatcher(queueSize int, forwarders []Forwarder) *dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &dispatcher{
		queue:      make(chan model.Event, queueSize),
		callbacks:  make(map[model.EventType][]Callback),
		forwarders: forwarders,
	}
}

// register adds a callback for the given event type.
func (d *dispatcher) register(eventType model.EventType, callback Callback) {
	d.mutexForCallbacks.Lock()
	defer d.mutexForCallbacks.Unlock()
	d.callbacks[eventType] = append(d.callbacks[eventType], callback)
}

// publish enqueues an event without blocking the caller. Full queue drops
// the event.
func (d *dispatcher) publish(event model.Event) {
	select {
	case d.queue <- event:
	default:
		logger.EventLog.Warnf("event queue full, dropping event type=%s", event.Type)
	}
}

// start launches the dispatcher goroutine.
func (d *dispatcher) start() {
	d.stopChannel = make(chan struct{})
	d.stoppedChannel = make(chan struct{})

	go d.runLoop()
}

// stop signals the dispatcher and waits for it to drain.
func (d *dispatcher) stop() {
	select {
	case <-d.stopChannel:
		// Already closing or closed.
	default:
		close(d.stopChannel)
	}
	<-d.stoppedChannel
}

// runLoop dispatches queued events until stopChannel is closed. Events
// already queued at stop time are still delivered.
func (d *dispatcher) runLoop() {
	defer close(d.stoppedChannel)

	for {
		select {
		case <-d.stopChannel:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// deliver invokes every registered callback and forwarder for one event.
func (d *dispatcher) deliver(event model.Event) {
	d.mutexForCallbacks.RLock()
	callbacks := make([]Callback, len(d.callbacks[event.Type]))
	copy(callbacks, d.callbacks[event.Type])
	d.mutexForCallbacks.RUnlock()

	for _, callback := range callbacks {
		d.invokeSafely(callback, event)
	}

	for _, forwarder := range d.forwarders {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		if forwardError := forwarder.Forward(ctx, event); forwardError != nil {
			logger.EventLog.Warnf("event forward failed type=%s: %v", event.Type, forwardError)
		}
		cancel()
	}
}

// invokeSafely shields the dispatcher from callback panics.
func (d *dispatcher) invokeSafely(callback Callback, event model.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.EventLog.Errorf("callback panic for event type=%s: %v", event.Type, recovered)
		}
	}()
	callback(event)
}
