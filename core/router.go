package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RouterConfig mirrors the recognized configuration options for the Event
// Router.
type RouterConfig struct {
	HMACSecret            []byte
	NonceCacheExpirySecs  int64
	MaxMessageAgeSecs     int64
	MaxFutureSkewSecs     int64
	SubscriberBufferSize  int
	PerSenderPublishBurst int
	PerSenderPublishRate  float64 // events/sec, 0 disables throttling
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.NonceCacheExpirySecs == 0 {
		c.NonceCacheExpirySecs = 120
	}
	if c.MaxMessageAgeSecs == 0 {
		c.MaxMessageAgeSecs = 60
	}
	if c.MaxFutureSkewSecs == 0 {
		c.MaxFutureSkewSecs = 10
	}
	if c.SubscriberBufferSize == 0 {
		c.SubscriberBufferSize = 256
	}
	return c
}

// Filter selects which published envelopes a subscription receives. An
// envelope matches if its topic is in Topics (when non-empty) AND its
// payload type is in Types (when non-empty); an empty Filter matches
// everything on the given topic.
type Filter struct {
	Topics []Topic
	Types  []PayloadType
}

func (f Filter) matches(topic Topic, pt PayloadType) bool {
	if len(f.Topics) > 0 && !containsTopic(f.Topics, topic) {
		return false
	}
	if len(f.Types) > 0 && !containsPayloadType(f.Types, pt) {
		return false
	}
	return true
}

func containsTopic(s []Topic, v Topic) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsPayloadType(s []PayloadType, v PayloadType) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// published is the internal delivery unit, carrying the topic alongside the
// envelope so subscribers can filter without re-parsing the payload.
type published struct {
	topic    Topic
	envelope *AuthenticatedEnvelope
}

// Subscription is a handle returned by EventRouter.Subscribe. Dropping it
// (calling Unsubscribe) cleans up the router's bookkeeping; the subscriber
// reads via Recv.
type Subscription struct {
	id     uint64
	router *EventRouter

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []published
	closed  bool
	lagged  uint64
	maxSize int
}

func newSubscription(id uint64, router *EventRouter, maxSize int) *Subscription {
	s := &Subscription{id: id, router: router, maxSize: maxSize}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue appends msg to the subscriber's buffer, dropping the oldest entry
// (and counting a "lagged" event) if the buffer is already full — the
// router never blocks the publisher waiting on a slow subscriber.
func (s *Subscription) enqueue(msg published) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.buf) >= s.maxSize {
		s.buf = s.buf[1:]
		s.lagged++
	}
	s.buf = append(s.buf, msg)
	s.cond.Signal()
}

// Recv blocks until an envelope is available, ctx is cancelled, or the
// subscription is closed. ok is false once closed with an empty buffer.
func (s *Subscription) Recv(ctx context.Context) (*AuthenticatedEnvelope, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		if ctx.Err() != nil {
			return nil, false
		}
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		return nil, false
	}
	msg := s.buf[0]
	s.buf = s.buf[1:]
	return msg.envelope, true
}

// LaggedCount reports how many messages this subscriber has dropped due to a
// full buffer since creation.
func (s *Subscription) LaggedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

// Unsubscribe removes the subscription from the router and wakes any
// blocked Recv call.
func (s *Subscription) Unsubscribe() {
	s.router.unsubscribe(s.id)
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// EventRouter is the authenticated, topic-filtered pub/sub bus. Subscriber
// bookkeeping and publish-path reads dominate over the comparatively rare
// subscribe/unsubscribe writes, so its bookkeeping lock is read-biased
// (sync.RWMutex). Lock ordering across the node is registry < component
// state < router bookkeeping, to avoid cross-subsystem deadlock.
type EventRouter struct {
	mu   sync.RWMutex
	subs map[uint64]*subEntry

	nextID  uint64
	cfg     RouterConfig
	replay  *ReplayCache
	clock   clock.Clock
	logger  *logrus.Logger
	metrics *routerMetrics

	limMu    sync.Mutex
	limiters map[SubsystemId]*rate.Limiter
}

type subEntry struct {
	filter Filter
	sub    *Subscription
}

// NewEventRouter constructs a router. logger defaults to logrus's standard
// logger, matching the NewConsensus constructor idiom elsewhere in this
// package.
func NewEventRouter(cfg RouterConfig, logger *logrus.Logger, c clock.Clock) *EventRouter {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if c == nil {
		c = clock.New()
	}
	return &EventRouter{
		subs:     make(map[uint64]*subEntry),
		cfg:      cfg,
		replay:   NewReplayCache(cfg.NonceCacheExpirySecs, c),
		clock:    c,
		logger:   logger,
		metrics:  newRouterMetrics(),
		limiters: make(map[SubsystemId]*rate.Limiter),
	}
}

// Subscribe registers filter and returns a handle the caller reads from.
func (r *EventRouter) Subscribe(filter Filter) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	sub := newSubscription(id, r, r.cfg.SubscriberBufferSize)
	r.subs[id] = &subEntry{filter: filter, sub: sub}
	return sub
}

func (r *EventRouter) unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

func (r *EventRouter) limiterFor(id SubsystemId) *rate.Limiter {
	if r.cfg.PerSenderPublishRate <= 0 {
		return nil
	}
	r.limMu.Lock()
	defer r.limMu.Unlock()
	l, ok := r.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.PerSenderPublishRate), r.cfg.PerSenderPublishBurst)
		r.limiters[id] = l
	}
	return l
}

// Publish authenticates env (authorization matrix, signature, replay,
// timestamp window) and, on success, fans it out to every matching
// subscriber, returning the number of receivers.
func (r *EventRouter) Publish(topic Topic, env *AuthenticatedEnvelope) (int, error) {
	if !authorizedSender(env.PayloadType, env.SenderID) {
		return 0, NewError(ErrUnauthorizedSender, "sender %d not authorized for %s", env.SenderID, env.PayloadType)
	}
	if !env.VerifySignature(r.cfg.HMACSecret) {
		return 0, NewError(ErrInvalidSignature, "HMAC verification failed")
	}
	now := r.clock.Now().Unix()
	minTs := now - r.cfg.MaxMessageAgeSecs
	maxTs := now + r.cfg.MaxFutureSkewSecs
	if int64(env.Timestamp) < minTs || int64(env.Timestamp) > maxTs {
		return 0, NewError(ErrTimestampOutOfWindow, "timestamp %d outside [%d,%d]", env.Timestamp, minTs, maxTs)
	}
	if !r.replay.CheckAndRecord(env.Nonce) {
		return 0, NewError(ErrReplayDetected, "nonce already seen")
	}
	if lim := r.limiterFor(env.SenderID); lim != nil && !lim.Allow() {
		return 0, NewError(ErrUnauthorizedSender, "sender %d exceeded publish rate", env.SenderID)
	}

	r.metrics.eventsPublished.Inc()

	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	msg := published{topic: topic, envelope: env}
	for _, entry := range r.subs {
		if !entry.filter.matches(topic, env.PayloadType) {
			continue
		}
		before := entry.sub.LaggedCount()
		entry.sub.enqueue(msg)
		if after := entry.sub.LaggedCount(); after > before {
			r.logger.WithFields(logrus.Fields{
				"subscription": entry.sub.id,
				"topic":        topic,
			}).Warn("lagged subscriber dropped oldest event")
			r.metrics.subscribersLagged.Inc()
		}
		count++
	}
	return count, nil
}

// PublishNew constructs, signs and publishes a fresh broadcast envelope
// (no reply_to, no correlation with any prior request) on topic. This is
// the entry point subsystem adapters use to emit choreography events —
// BlockValidated, BlockStored, CheckpointJustified and the like — that
// aren't a direct reply to an inbound Request.
func (r *EventRouter) PublishNew(topic Topic, sender SubsystemId, pt PayloadType, payload []byte) (int, error) {
	env := &AuthenticatedEnvelope{
		Version:       EnvelopeVersion,
		CorrelationID: NewCorrelationID(),
		SenderID:      sender,
		Timestamp:     Now(),
		Nonce:         NewNonce(),
		PayloadType:   pt,
		Payload:       payload,
	}
	env.Sign(r.cfg.HMACSecret)
	return r.Publish(topic, env)
}

// Request publishes payload on target's inbound topic with a fresh
// correlation_id and a private reply_to topic, then waits for the matching
// response or ctx/timeout expiry.
func (r *EventRouter) Request(ctx context.Context, target Topic, sender SubsystemId, recipient SubsystemId, pt PayloadType, payload []byte, timeout time.Duration) (*AuthenticatedEnvelope, error) {
	corrID := NewCorrelationID()
	replyTopic := Topic(fmt.Sprintf("reply:%x", corrID))

	replySub := r.Subscribe(Filter{Topics: []Topic{replyTopic}})
	defer replySub.Unsubscribe()

	env := &AuthenticatedEnvelope{
		Version:       EnvelopeVersion,
		CorrelationID: corrID,
		ReplyTo:       string(replyTopic),
		SenderID:      sender,
		RecipientID:   recipient,
		Timestamp:     Now(),
		Nonce:         NewNonce(),
		PayloadType:   pt,
		Payload:       payload,
	}
	env.Sign(r.cfg.HMACSecret)

	if _, err := r.Publish(target, env); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, ok := replySub.Recv(reqCtx)
	if !ok {
		return nil, NewError(ErrNodeUnhealthy, "request to %s timed out after %s", target, timeout)
	}
	return resp, nil
}

// MetricsCollectors exposes the router's Prometheus collectors for
// process-level registration.
func (r *EventRouter) MetricsCollectors() []prometheus.Collector {
	return r.metrics.Collectors()
}

// Respond publishes resp on the reply_to topic named by the original
// request envelope, completing a Request/Respond round trip.
func (r *EventRouter) Respond(original *AuthenticatedEnvelope, sender SubsystemId, pt PayloadType, payload []byte) (int, error) {
	if original.ReplyTo == "" {
		return 0, fmt.Errorf("original envelope has no reply_to")
	}
	env := &AuthenticatedEnvelope{
		Version:       EnvelopeVersion,
		CorrelationID: original.CorrelationID,
		SenderID:      sender,
		RecipientID:   original.SenderID,
		Timestamp:     Now(),
		Nonce:         NewNonce(),
		PayloadType:   pt,
		Payload:       payload,
	}
	env.Sign(r.cfg.HMACSecret)
	return r.Publish(Topic(original.ReplyTo), env)
}
