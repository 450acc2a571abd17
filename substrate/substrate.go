// Package substrate names the external pub/sub/query collaborator that the
// reliable delivery layer is built on top of: a live best-effort data
// plane plus a point-to-point query plane used for historical recovery.
// Concrete sessions live in the subpackages (localbus, kafkabus,
// rocketmqbus).
package substrate

import (
	"context"
	"time"
)

// SampleKind distinguishes a regular publication from a retraction.
type SampleKind int

const (
	// KindPut is a regular publication.
	KindPut SampleKind = iota
	// KindDelete marks the key expression as deleted as of this sample.
	KindDelete
)

func (k SampleKind) String() string {
	if k == KindDelete {
		return "delete"
	}
	return "put"
}

// SourceInfo attaches the sequencing metadata the reliable layer depends on.
// It travels with every Sample, carried over the substrate as opaque
// attachment bytes by backends that have no native concept of it.
type SourceInfo struct {
	SourceID string
	SourceSN uint64
}

// Sample is a single piece of substrate traffic, either a live publication
// or a historical-recovery reply payload.
type Sample struct {
	KeyExpr string
	Kind    SampleKind
	Payload []byte
	Source  SourceInfo
	Time    time.Time
}

// Query is a point-to-point request issued against a Queryable, encoding a
// selector in the params package's grammar (e.g. "_sn=10|40;_src=abc").
type Query struct {
	KeyExpr  string
	Selector string
}

// Reply is a single answer to a Query. A Queryable may send zero or more
// Replies before the query is considered finished.
type Reply struct {
	Sample Sample
	Err    error
}

// OriginPolicy restricts which scope a declaration is visible from.
type OriginPolicy int

const (
	// OriginAny accepts traffic regardless of origin.
	OriginAny OriginPolicy = iota
	// OriginSessionLocal restricts visibility to the declaring session.
	OriginSessionLocal
)

// Publisher is a handle used to emit samples under a fixed key expression.
type Publisher interface {
	KeyExpr() string
	Put(ctx context.Context, payload []byte, src SourceInfo) error
	Delete(ctx context.Context, src SourceInfo) error
	Undeclare(ctx context.Context) error
}

// Subscriber delivers live samples matching a key expression.
type Subscriber interface {
	Recv(ctx context.Context) (Sample, error)
	Undeclare(ctx context.Context) error
}

// QueryHandler answers an incoming Query by streaming Replies to out, then
// closing it. It runs on the substrate's dispatch goroutine for that query.
type QueryHandler func(ctx context.Context, q Query, out chan<- Reply)

// Queryable registers a QueryHandler under a key expression prefix so
// remote Get callers can reach it.
type Queryable interface {
	KeyExpr() string
	Undeclare(ctx context.Context) error
}

// Target controls how many queryable matches a Get should consolidate.
type Target int

const (
	// TargetAll queries every matching queryable.
	TargetAll Target = iota
	// TargetBestMatching queries the best single match.
	TargetBestMatching
)

// Session is the external collaborator: it owns declaration of publishers,
// subscribers and queryables over a shared transport, and answers
// point-to-point Get queries. Concrete backends (localbus, kafkabus,
// rocketmqbus) implement this over different wire transports.
type Session interface {
	// ZID returns this session's process-unique identity, used as the
	// default source_id for publishers declared on it.
	ZID() string

	DeclarePublisher(ctx context.Context, keyExpr string) (Publisher, error)
	DeclareSubscriber(ctx context.Context, keyExpr string, origin OriginPolicy) (Subscriber, error)
	DeclareQueryable(ctx context.Context, keyExpr string, handler QueryHandler) (Queryable, error)

	// Get issues a point-to-point query against queryables whose key
	// expression matches keyExpr, streaming replies until all queryables
	// have finished or ctx is done.
	Get(ctx context.Context, keyExpr string, selector string, target Target) (<-chan Reply, error)

	Close() error
}

// MatchKeyExpr reports whether expr (which may contain `*` for a single
// path segment and `**` for any number of segments) matches key. It lives
// here at the substrate boundary since every backend needs the same
// matching rule to route Queries/Samples.
func MatchKeyExpr(expr, key string) bool {
	return matchSegments(splitSegments(expr), splitSegments(key))
}

func splitSegments(s string) []string {
	if s == "" {
		return nil
	}
	var segs []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			segs = append(segs, s[start:i])
			start = i + 1
		}
	}
	segs = append(segs, s[start:])
	return segs
}

func matchSegments(expr, key []string) bool {
	if len(expr) == 0 {
		return len(key) == 0
	}
	head := expr[0]
	if head == "**" {
		if matchSegments(expr[1:], key) {
			return true
		}
		if len(key) == 0 {
			return false
		}
		return matchSegments(expr, key[1:])
	}
	if len(key) == 0 {
		return false
	}
	if head != "*" && head != key[0] {
		return false
	}
	return matchSegments(expr[1:], key[1:])
}
