// Copyright 2026 Arcentra Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rocketmqbus is a substrate.Session backed by Apache RocketMQ,
// symmetric to substrate/kafkabus: built on pkg/mq/rocketmq's push-model
// Producer/Consumer, with Queryable/Get emulated over a control topic plus
// a request-scoped reply topic the same way kafkabus does it, since
// RocketMQ has no native request/reply primitive either.
package rocketmqbus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcentrix/nbreliable/pkg/mq/rocketmq"
	"github.com/arcentrix/nbreliable/substrate"
)

const (
	headerKeyExpr  = "x-key-expr"
	headerSourceID = "x-source-id"
	headerSourceSN = "x-source-sn"
	headerKind     = "x-kind"
	headerCorrID   = "x-corr-id"
	headerReplyTo  = "x-reply-to"
	headerSelector = "x-selector"
	headerErr      = "x-err"

	queryQuietPeriod = 200 * time.Millisecond
)

func topicFor(keyExpr string) string {
	return strings.ReplaceAll(keyExpr, "/", ".")
}

func queryTopicFor(keyExpr string) string {
	return topicFor(keyExpr) + ".query"
}

// broadcastSegment is the literal topic segment standing in for a leading
// "*" wildcard: RocketMQ topic names cannot carry key-expression wildcards,
// so a broadcast Get and every queryable agree on this well-known segment
// instead.
const broadcastSegment = "any"

// routableKeyExpr rewrites a leading "*" segment to broadcastSegment so the
// query and reply topics derived from keyExpr are legal topic names. The
// original key expression still travels in the query's headers.
func routableKeyExpr(keyExpr string) string {
	if strings.HasPrefix(keyExpr, "*/") {
		return broadcastSegment + keyExpr[1:]
	}
	return keyExpr
}

// broadcastKeyExprFor derives the broadcast form of a queryable's key
// expression: its source-specific first segment replaced with
// broadcastSegment. ok is false when keyExpr has no segment to replace.
func broadcastKeyExprFor(keyExpr string) (string, bool) {
	if i := strings.IndexByte(keyExpr, '/'); i > 0 {
		return broadcastSegment + keyExpr[i:], true
	}
	return "", false
}

// Session is a substrate.Session backed by a RocketMQ cluster.
type Session struct {
	nameServers []string
	producer    *rocketmq.Producer
	zid         string

	mu         sync.Mutex
	consumers  []*rocketmq.Consumer
	queryables []*queryable
}

// New dials nameServers and returns a Session.
func New(nameServers []string, opts ...rocketmq.ProducerOption) (*Session, error) {
	producer, err := rocketmq.NewProducer(nameServers, opts...)
	if err != nil {
		return nil, fmt.Errorf("rocketmqbus: new producer: %w", err)
	}
	return &Session{nameServers: nameServers, producer: producer, zid: uuid.NewString()}, nil
}

func (s *Session) ZID() string { return s.zid }

type publisher struct {
	sess    *Session
	keyExpr string
}

func (s *Session) DeclarePublisher(_ context.Context, keyExpr string) (substrate.Publisher, error) {
	return &publisher{sess: s, keyExpr: keyExpr}, nil
}

func (p *publisher) KeyExpr() string { return p.keyExpr }

func (p *publisher) Put(ctx context.Context, payload []byte, src substrate.SourceInfo) error {
	return p.sess.producer.Send(ctx, topicFor(p.keyExpr), src.SourceID, payload, map[string]string{
		headerKeyExpr:  p.keyExpr,
		headerSourceID: src.SourceID,
		headerSourceSN: strconv.FormatUint(src.SourceSN, 10),
		headerKind:     strconv.Itoa(int(substrate.KindPut)),
	})
}

func (p *publisher) Delete(ctx context.Context, src substrate.SourceInfo) error {
	return p.sess.producer.Send(ctx, topicFor(p.keyExpr), src.SourceID, nil, map[string]string{
		headerKeyExpr:  p.keyExpr,
		headerSourceID: src.SourceID,
		headerSourceSN: strconv.FormatUint(src.SourceSN, 10),
		headerKind:     strconv.Itoa(int(substrate.KindDelete)),
	})
}

func (p *publisher) Undeclare(context.Context) error { return nil }

// subscription bridges RocketMQ's push-model Consumer to the substrate's
// pull-model Subscriber by draining the handler's deliveries into a
// buffered channel that Recv reads from.
type subscription struct {
	sess     *Session
	consumer *rocketmq.Consumer
	ch       chan substrate.Sample
	origin   substrate.OriginPolicy
	cancel   context.CancelFunc
	done     chan struct{}
}

func (s *Session) DeclareSubscriber(_ context.Context, keyExpr string, origin substrate.OriginPolicy) (substrate.Subscriber, error) {
	// RocketMQ resolves a consumer group via GroupId, shared by every
	// consumer started with the same id; each subscriber needs its own
	// group so it receives every message rather than splitting them with
	// other subscribers on the same key expression.
	groupID := "sub-" + uuid.NewString()
	consumer, err := rocketmq.NewConsumer(s.nameServers, groupID)
	if err != nil {
		return nil, fmt.Errorf("rocketmqbus: declare subscriber: %w", err)
	}

	sub := &subscription{
		sess:     s,
		consumer: consumer,
		ch:       make(chan substrate.Sample, 256),
		origin:   origin,
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	go func() {
		defer close(sub.done)
		_ = consumer.Subscribe(ctx, []string{topicFor(keyExpr)}, func(_ context.Context, msg *rocketmq.Message) error {
			sample := sampleFromMessage(msg)
			if origin == substrate.OriginSessionLocal && sample.Source.SourceID != s.zid {
				return nil
			}
			select {
			case sub.ch <- sample:
			case <-ctx.Done():
			}
			return nil
		})
	}()

	s.mu.Lock()
	s.consumers = append(s.consumers, consumer)
	s.mu.Unlock()

	return sub, nil
}

func (sub *subscription) Recv(ctx context.Context) (substrate.Sample, error) {
	select {
	case sample, ok := <-sub.ch:
		if !ok {
			return substrate.Sample{}, fmt.Errorf("rocketmqbus: subscriber closed")
		}
		return sample, nil
	case <-ctx.Done():
		return substrate.Sample{}, ctx.Err()
	}
}

func (sub *subscription) Undeclare(context.Context) error {
	sub.cancel()
	<-sub.done
	return sub.consumer.Close()
}

func sampleFromMessage(msg *rocketmq.Message) substrate.Sample {
	sn, _ := strconv.ParseUint(msg.Headers[headerSourceSN], 10, 64)
	kind, _ := strconv.Atoi(msg.Headers[headerKind])
	return substrate.Sample{
		KeyExpr: msg.Headers[headerKeyExpr],
		Kind:    substrate.SampleKind(kind),
		Payload: msg.Value,
		Source:  substrate.SourceInfo{SourceID: msg.Headers[headerSourceID], SourceSN: sn},
		Time:    time.Now(),
	}
}

type queryable struct {
	sess     *Session
	keyExpr  string
	handler  substrate.QueryHandler
	consumer *rocketmq.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

func (q *queryable) KeyExpr() string { return q.keyExpr }

func (s *Session) DeclareQueryable(ctx context.Context, keyExpr string, handler substrate.QueryHandler) (substrate.Queryable, error) {
	groupID := "qry-" + uuid.NewString()
	consumer, err := rocketmq.NewConsumer(s.nameServers, groupID)
	if err != nil {
		return nil, fmt.Errorf("rocketmqbus: declare queryable: %w", err)
	}

	qctx, cancel := context.WithCancel(context.Background())
	q := &queryable{sess: s, keyExpr: keyExpr, handler: handler, consumer: consumer, cancel: cancel, done: make(chan struct{})}

	// Listen on both the exact query topic (targeted Gets) and the
	// broadcast form of it, which a Get with a leading "*" segment lands on.
	topics := []string{queryTopicFor(keyExpr)}
	if b, ok := broadcastKeyExprFor(keyExpr); ok {
		topics = append(topics, queryTopicFor(b))
	}
	go func() {
		defer close(q.done)
		_ = consumer.Subscribe(qctx, topics, func(ictx context.Context, msg *rocketmq.Message) error {
			q.answer(ictx, msg)
			return nil
		})
	}()

	s.mu.Lock()
	s.queryables = append(s.queryables, q)
	s.mu.Unlock()

	return q, nil
}

func (q *queryable) answer(ctx context.Context, msg *rocketmq.Message) {
	query := substrate.Query{KeyExpr: msg.Headers[headerKeyExpr], Selector: msg.Headers[headerSelector]}
	replyTopic := msg.Headers[headerReplyTo]
	corrID := msg.Headers[headerCorrID]

	out := make(chan substrate.Reply, 16)
	go func() { q.handler(ctx, query, out) }()
	for reply := range out {
		errStr := ""
		if reply.Err != nil {
			errStr = reply.Err.Error()
		}
		headers := map[string]string{
			headerCorrID:   corrID,
			headerKeyExpr:  reply.Sample.KeyExpr,
			headerSourceID: reply.Sample.Source.SourceID,
			headerSourceSN: strconv.FormatUint(reply.Sample.Source.SourceSN, 10),
			headerKind:     strconv.Itoa(int(reply.Sample.Kind)),
			headerErr:      errStr,
		}
		_ = q.sess.producer.Send(ctx, replyTopic, corrID, reply.Sample.Payload, headers)
	}
}

func (q *queryable) Undeclare(context.Context) error {
	q.cancel()
	<-q.done
	s := q.sess
	s.mu.Lock()
	for i, r := range s.queryables {
		if r == q {
			s.queryables = append(s.queryables[:i], s.queryables[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return q.consumer.Close()
}

func (s *Session) Get(ctx context.Context, keyExpr string, selector string, _ substrate.Target) (<-chan substrate.Reply, error) {
	corrID := uuid.NewString()
	routable := routableKeyExpr(keyExpr)
	replyTopic := topicFor(routable) + ".reply." + corrID
	groupID := "get-" + corrID

	consumer, err := rocketmq.NewConsumer(s.nameServers, groupID)
	if err != nil {
		return nil, fmt.Errorf("rocketmqbus: get: %w", err)
	}

	out := make(chan substrate.Reply, 64)
	qctx, cancel := context.WithTimeout(ctx, queryQuietPeriod)

	go func() {
		defer close(out)
		defer cancel()
		defer consumer.Close()
		_ = consumer.Subscribe(qctx, []string{replyTopic}, func(_ context.Context, msg *rocketmq.Message) error {
			select {
			case out <- replyFromMessage(msg):
			case <-ctx.Done():
			}
			return nil
		})
	}()

	if err := s.producer.Send(ctx, queryTopicFor(routable), corrID, nil, map[string]string{
		headerKeyExpr:  keyExpr,
		headerSelector: selector,
		headerCorrID:   corrID,
		headerReplyTo:  replyTopic,
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("rocketmqbus: get publish query: %w", err)
	}

	return out, nil
}

func replyFromMessage(msg *rocketmq.Message) substrate.Reply {
	if errStr := msg.Headers[headerErr]; errStr != "" {
		return substrate.Reply{Err: fmt.Errorf("%s", errStr)}
	}
	sn, _ := strconv.ParseUint(msg.Headers[headerSourceSN], 10, 64)
	kind, _ := strconv.Atoi(msg.Headers[headerKind])
	return substrate.Reply{Sample: substrate.Sample{
		KeyExpr: msg.Headers[headerKeyExpr],
		Kind:    substrate.SampleKind(kind),
		Payload: msg.Value,
		Source:  substrate.SourceInfo{SourceID: msg.Headers[headerSourceID], SourceSN: sn},
		Time:    time.Now(),
	}}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queryables {
		q.cancel()
	}
	for _, c := range s.consumers {
		_ = c.Close()
	}
	return s.producer.Close()
}
