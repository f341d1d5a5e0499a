// Package events fans order changes out to live subscribers. Delivery is best effort:
// publishers never block and slow subscribers are dropped.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
)

var ErrStopped = errors.New("event distributor stopped")

const (
	defaultInboxSize        = 1024
	defaultSubscriberBuffer = 32
	defaultMaxMisses        = 8
)

type Params struct {
	InboxSize        int
	SubscriberBuffer int
	MaxMisses        int
	Logger           *logger.Logger
	Metrics          *metrics.DistributorMetrics
}

type delivery struct {
	event  Event
	topics []string
}

// Distributor owns the topic registry and the dispatcher goroutine.
type Distributor struct {
	inbox     chan delivery
	quit      chan struct{}
	done      chan struct{}
	bufSize   int
	maxMisses int
	logg      *logger.Logger
	metrics   *metrics.DistributorMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool

	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Subscribers int            `json:"subscribers"`
	Topics      map[string]int `json:"topics"`
}

func NewDistributor(params Params) *Distributor {
	inboxSize := params.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	bufSize := params.SubscriberBuffer
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	maxMisses := params.MaxMisses
	if maxMisses <= 0 {
		maxMisses = defaultMaxMisses
	}
	return &Distributor{
		inbox:     make(chan delivery, inboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		bufSize:   bufSize,
		maxMisses: maxMisses,
		logg:      params.Logger,
		metrics:   params.Metrics,
		topics:    make(map[string]map[*Subscription]struct{}),
	}
}

// Start launches the dispatcher. It stops when ctx ends or Stop is called.
func (d *Distributor) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Stop halts dispatching and closes every subscription. Queued events are discarded.
func (d *Distributor) Stop() {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.quit)
		// Without a dispatcher there is nothing to wait for.
		d.startOnce.Do(func() { close(d.done) })
		<-d.done

		d.mu.Lock()
		for topic, subs := range d.topics {
			for sub := range subs {
				sub.closeLocked()
			}
			delete(d.topics, topic)
		}
		d.mu.Unlock()
		d.metrics.SetSubscribers(0)
	})
}

// Publish queues event for topics and returns immediately. It reports false when the
// event was dropped because the inbox is full or the distributor is stopped.
func (d *Distributor) Publish(event Event, topics ...string) bool {
	if d.stopped.Load() {
		d.metrics.IncDropped("stopped")
		return false
	}
	if len(topics) == 0 {
		topics = event.Topics()
	}
	select {
	case d.inbox <- delivery{event: event, topics: topics}:
		d.metrics.IncPublished()
		return true
	default:
		d.metrics.IncDropped("inbox_full")
		if d.logg != nil {
			ctx := d.logg.WithField(context.Background(), "order_id", event.OrderID.String())
			d.logg.Warn(ctx, "event inbox full; dropping event")
		}
		return false
	}
}

// Subscribe registers a listener on topic. The subscription ends when ctx is done,
// Close is called, or the subscriber falls too far behind.
func (d *Distributor) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if _, _, err := ParseTopic(topic); err != nil {
		return nil, err
	}
	sub := &Subscription{
		topic:  topic,
		ch:     make(chan Event, d.bufSize),
		closed: make(chan struct{}),
		dist:   d,
	}

	d.mu.Lock()
	if d.stopped.Load() {
		d.mu.Unlock()
		return nil, ErrStopped
	}
	subs, ok := d.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		d.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	count := d.countLocked()
	d.mu.Unlock()
	d.metrics.SetSubscribers(count)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closed:
		}
	}()
	return sub, nil
}

// Stats returns subscriber counts per topic.
func (d *Distributor) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := Stats{Topics: make(map[string]int, len(d.topics))}
	for topic, subs := range d.topics {
		stats.Topics[topic] = len(subs)
		stats.Subscribers += len(subs)
	}
	return stats
}

func (d *Distributor) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			go d.Stop()
			return
		case <-d.quit:
			return
		case msg := <-d.inbox:
			d.dispatch(msg)
		}
	}
}

func (d *Distributor) dispatch(msg delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pruned := 0
	for _, topic := range msg.topics {
		for sub := range d.topics[topic] {
			select {
			case sub.ch <- msg.event:
				sub.misses = 0
				d.metrics.IncDelivered()
			default:
				sub.misses++
				d.metrics.IncDropped("subscriber_full")
				if sub.misses >= d.maxMisses {
					d.removeLocked(sub)
					pruned++
				}
			}
		}
	}
	if pruned > 0 {
		d.metrics.SetSubscribers(d.countLocked())
		if d.logg != nil {
			ctx := d.logg.WithField(context.Background(), "pruned", pruned)
			d.logg.Warn(ctx, "pruned slow event subscribers")
		}
	}
}

func (d *Distributor) removeLocked(sub *Subscription) {
	if subs, ok := d.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(d.topics, sub.topic)
		}
	}
	sub.closeLocked()
}

func (d *Distributor) countLocked() int {
	n := 0
	for _, subs := range d.topics {
		n += len(subs)
	}
	return n
}

// Subscription is one listener on one topic.
type Subscription struct {
	topic  string
	ch     chan Event
	closed chan struct{}
	misses int
	dist   *Distributor
	once   sync.Once
}

// Events yields delivered events. The channel is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.closed
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	d := s.dist
	d.mu.Lock()
	d.removeLocked(s)
	count := d.countLocked()
	d.mu.Unlock()
	d.metrics.SetSubscribers(count)
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		close(s.ch)
		close(s.closed)
	})
}
