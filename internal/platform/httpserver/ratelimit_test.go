package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/chess-academy/internal/platform/auth"
)

func limited(limit int) http.Handler {
	return RateLimit(limit, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimit_PerSubject(t *testing.T) {
	h := limited(2)
	send := func(uid string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/playback/lec-1/events", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		req = req.WithContext(auth.WithUserID(req.Context(), uid))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("learner-a"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("learner-a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", code)
	}
	// Same IP, different learner: separate budget.
	if code := send("learner-b"); code != http.StatusOK {
		t.Fatalf("expected 200 for another subject, got %d", code)
	}
}

func TestRateLimit_FallsBackToIP(t *testing.T) {
	h := limited(1)
	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("1.2.3.4:1"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send("1.2.3.4:2"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same IP, got %d", code)
	}
	if code := send("5.6.7.8:1"); code != http.StatusOK {
		t.Fatalf("expected 200 for a different IP, got %d", code)
	}
}
