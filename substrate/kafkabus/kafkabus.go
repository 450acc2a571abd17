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

// Package kafkabus is a substrate.Session backed by Kafka, built directly
// on pkg/mq/kafka's Producer/Consumer. Kafka has no native
// request/reply plane, so Queryable/Get is emulated: a Get publishes a
// query record to the key expression's "<topic>.query" control topic and
// collects replies published back to a request-scoped reply topic, closing
// once no reply arrives within a short quiet period.
package kafkabus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ckafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/arcentrix/nbreliable/pkg/mq/kafka"
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
// "*" wildcard: Kafka topic names cannot carry key-expression wildcards, so
// a broadcast Get and every queryable agree on this well-known segment
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

// Session is a substrate.Session backed by a Kafka cluster.
type Session struct {
	bootstrapServers string
	producer         *kafka.Producer
	zid              string
	programName      string

	mu         sync.Mutex
	consumers  []*kafka.Consumer
	queryables []*queryable
}

// New dials bootstrapServers and returns a Session. programName identifies
// this process in Kafka client ids; consumer-group ids are derived from
// topic names instead.
func New(bootstrapServers, programName string, opts ...kafka.ProducerOption) (*Session, error) {
	producer, err := kafka.NewProducer(bootstrapServers, programName, opts...)
	if err != nil {
		return nil, fmt.Errorf("kafkabus: new producer: %w", err)
	}
	return &Session{
		bootstrapServers: bootstrapServers,
		producer:         producer,
		zid:              uuid.NewString(),
		programName:      programName,
	}, nil
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
		headerSourceSN: fmt.Sprintf("%d", src.SourceSN),
		headerKind:     fmt.Sprintf("%d", int(substrate.KindPut)),
	})
}

func (p *publisher) Delete(ctx context.Context, src substrate.SourceInfo) error {
	return p.sess.producer.Send(ctx, topicFor(p.keyExpr), src.SourceID, nil, map[string]string{
		headerKeyExpr:  p.keyExpr,
		headerSourceID: src.SourceID,
		headerSourceSN: fmt.Sprintf("%d", src.SourceSN),
		headerKind:     fmt.Sprintf("%d", int(substrate.KindDelete)),
	})
}

func (p *publisher) Undeclare(context.Context) error { return nil }

type subscription struct {
	sess     *Session
	consumer *kafka.Consumer
	origin   substrate.OriginPolicy
}

func (s *Session) DeclareSubscriber(_ context.Context, keyExpr string, origin substrate.OriginPolicy) (substrate.Subscriber, error) {
	// pkg/mq/kafka.NewConsumer derives the actual consumer group id from its
	// topicName argument, not from a caller-supplied group id -- so a
	// distinguishing, per-declaration name is passed here to keep each
	// subscriber in its own group even though Subscribe below points every
	// one of them at the same real topic.
	consumer, err := kafka.NewConsumer(s.bootstrapServers, topicFor(keyExpr)+".sub."+uuid.NewString(), s.programName)
	if err != nil {
		return nil, fmt.Errorf("kafkabus: declare subscriber: %w", err)
	}
	if err := consumer.Subscribe([]string{topicFor(keyExpr)}); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("kafkabus: subscribe: %w", err)
	}

	s.mu.Lock()
	s.consumers = append(s.consumers, consumer)
	s.mu.Unlock()

	return &subscription{sess: s, consumer: consumer, origin: origin}, nil
}

func (sub *subscription) Recv(ctx context.Context) (substrate.Sample, error) {
	for {
		select {
		case <-ctx.Done():
			return substrate.Sample{}, ctx.Err()
		default:
		}
		msg, err := sub.consumer.ReadMessage(200 * time.Millisecond)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return substrate.Sample{}, err
		}
		sample := sampleFromMessage(msg)
		if sub.origin == substrate.OriginSessionLocal && sample.Source.SourceID != sub.sess.zid {
			continue
		}
		return sample, nil
	}
}

func (sub *subscription) Undeclare(context.Context) error {
	return sub.consumer.Close()
}

func sampleFromMessage(msg *ckafka.Message) substrate.Sample {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var sn uint64
	fmt.Sscanf(headers[headerSourceSN], "%d", &sn)
	var kind int
	fmt.Sscanf(headers[headerKind], "%d", &kind)
	return substrate.Sample{
		KeyExpr: headers[headerKeyExpr],
		Kind:    substrate.SampleKind(kind),
		Payload: msg.Value,
		Source:  substrate.SourceInfo{SourceID: headers[headerSourceID], SourceSN: sn},
		Time:    msg.Timestamp,
	}
}

func isTimeout(err error) bool {
	kerr, ok := err.(ckafka.Error)
	return ok && kerr.Code() == ckafka.ErrTimedOut
}

type queryable struct {
	sess    *Session
	keyExpr string
	handler substrate.QueryHandler
	cancel  context.CancelFunc
	done    chan struct{}
}

func (q *queryable) KeyExpr() string { return q.keyExpr }

func (s *Session) DeclareQueryable(ctx context.Context, keyExpr string, handler substrate.QueryHandler) (substrate.Queryable, error) {
	consumer, err := kafka.NewConsumer(s.bootstrapServers, queryTopicFor(keyExpr)+".qry."+uuid.NewString(), s.programName)
	if err != nil {
		return nil, fmt.Errorf("kafkabus: declare queryable: %w", err)
	}
	// Listen on both the exact query topic (targeted Gets) and the
	// broadcast form of it, which a Get with a leading "*" segment lands on.
	topics := []string{queryTopicFor(keyExpr)}
	if b, ok := broadcastKeyExprFor(keyExpr); ok {
		topics = append(topics, queryTopicFor(b))
	}
	if err := consumer.Subscribe(topics); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("kafkabus: subscribe query topic: %w", err)
	}

	qctx, cancel := context.WithCancel(context.Background())
	q := &queryable{sess: s, keyExpr: keyExpr, handler: handler, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.queryables = append(s.queryables, q)
	s.mu.Unlock()

	go q.run(qctx, consumer)
	return q, nil
}

func (q *queryable) run(ctx context.Context, consumer *kafka.Consumer) {
	defer close(q.done)
	defer consumer.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := consumer.ReadMessage(200 * time.Millisecond)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		go q.answer(ctx, msg)
	}
}

func (q *queryable) answer(ctx context.Context, msg *ckafka.Message) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	query := substrate.Query{KeyExpr: headers[headerKeyExpr], Selector: headers[headerSelector]}
	replyTopic := headers[headerReplyTo]
	corrID := headers[headerCorrID]

	out := make(chan substrate.Reply, 16)
	go func() {
		q.handler(ctx, query, out)
	}()
	for reply := range out {
		errStr := ""
		if reply.Err != nil {
			errStr = reply.Err.Error()
		}
		headers := map[string]string{
			headerCorrID:   corrID,
			headerKeyExpr:  reply.Sample.KeyExpr,
			headerSourceID: reply.Sample.Source.SourceID,
			headerSourceSN: fmt.Sprintf("%d", reply.Sample.Source.SourceSN),
			headerKind:     fmt.Sprintf("%d", int(reply.Sample.Kind)),
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
	return nil
}

func (s *Session) Get(ctx context.Context, keyExpr string, selector string, _ substrate.Target) (<-chan substrate.Reply, error) {
	corrID := uuid.NewString()
	routable := routableKeyExpr(keyExpr)
	replyTopic := topicFor(routable) + ".reply." + corrID

	consumer, err := kafka.NewConsumer(s.bootstrapServers, replyTopic, s.programName)
	if err != nil {
		return nil, fmt.Errorf("kafkabus: get: %w", err)
	}
	if err := consumer.Subscribe([]string{replyTopic}); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("kafkabus: get subscribe: %w", err)
	}

	if err := s.producer.Send(ctx, queryTopicFor(routable), corrID, nil, map[string]string{
		headerKeyExpr:  keyExpr,
		headerSelector: selector,
		headerCorrID:   corrID,
		headerReplyTo:  replyTopic,
	}); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("kafkabus: get publish query: %w", err)
	}

	out := make(chan substrate.Reply, 64)
	go func() {
		defer close(out)
		defer consumer.Close()
		for {
			msg, err := consumer.ReadMessage(queryQuietPeriod)
			if err != nil {
				if isTimeout(err) {
					return // quiet period elapsed: no more queryables answering
				}
				return
			}
			select {
			case out <- replyFromMessage(msg):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func replyFromMessage(msg *ckafka.Message) substrate.Reply {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if errStr := headers[headerErr]; errStr != "" {
		return substrate.Reply{Err: fmt.Errorf("%s", errStr)}
	}
	var sn uint64
	fmt.Sscanf(headers[headerSourceSN], "%d", &sn)
	var kind int
	fmt.Sscanf(headers[headerKind], "%d", &kind)
	return substrate.Reply{Sample: substrate.Sample{
		KeyExpr: headers[headerKeyExpr],
		Kind:    substrate.SampleKind(kind),
		Payload: msg.Value,
		Source:  substrate.SourceInfo{SourceID: headers[headerSourceID], SourceSN: sn},
		Time:    msg.Timestamp,
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
	s.producer.Close()
	return nil
}
