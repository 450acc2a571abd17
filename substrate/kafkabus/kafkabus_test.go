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

package kafkabus

import "testing"

func TestTopicFor(t *testing.T) {
	cases := map[string]string{
		"demo/sensor":      "demo.sensor",
		"demo/sensor/temp": "demo.sensor.temp",
		"no-slash":         "no-slash",
	}
	for keyExpr, want := range cases {
		if got := topicFor(keyExpr); got != want {
			t.Fatalf("topicFor(%q) = %q, want %q", keyExpr, got, want)
		}
	}
}

func TestQueryTopicFor(t *testing.T) {
	if got, want := queryTopicFor("demo/sensor"), "demo.sensor.query"; got != want {
		t.Fatalf("queryTopicFor = %q, want %q", got, want)
	}
}

func TestRoutableKeyExprRewritesLeadingWildcard(t *testing.T) {
	if got, want := routableKeyExpr("*/demo/sensor"), "any/demo/sensor"; got != want {
		t.Fatalf("routableKeyExpr = %q, want %q", got, want)
	}
	// A targeted key expression passes through untouched.
	if got, want := routableKeyExpr("abc123/demo/sensor"), "abc123/demo/sensor"; got != want {
		t.Fatalf("routableKeyExpr = %q, want %q", got, want)
	}
}

func TestBroadcastKeyExprFor(t *testing.T) {
	b, ok := broadcastKeyExprFor("abc123/demo/sensor")
	if !ok || b != "any/demo/sensor" {
		t.Fatalf("broadcastKeyExprFor = %q, %v; want any/demo/sensor, true", b, ok)
	}
	if _, ok := broadcastKeyExprFor("bare"); ok {
		t.Fatalf("expected no broadcast form for a single-segment key expression")
	}
}
