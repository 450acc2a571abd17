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

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredCounters(t *testing.T) {
	SamplesPublished.WithLabelValues("demo/example").Inc()
	GapRepairsIssued.WithLabelValues("src-1", "tail").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "nbreliable_samples_published_total") {
		t.Fatal("expected samples_published_total in scrape output")
	}
	if !strings.Contains(body, "nbreliable_gap_repairs_issued_total") {
		t.Fatal("expected gap_repairs_issued_total in scrape output")
	}
}
