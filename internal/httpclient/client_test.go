package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"testing"
	"time"
)

func okServer(t *testing.T, seen chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen <- r.Header.Get("User-Agent")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(ctx context.Context, c *Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// TestClient_ConnectionReuse verifies keep-alives and pooling are active.
func TestClient_ConnectionReuse(t *testing.T) {
	srv := okServer(t, nil)
	c := New()
	defer c.Close()

	var reused int
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				reused++
			}
		},
	}

	const n = 5
	for i := 0; i < n; i++ {
		ctx := httptrace.WithClientTrace(context.Background(), trace)
		if err := get(ctx, c, srv.URL); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	if reused < n-2 {
		t.Errorf("expected at least %d reused connections, got %d", n-2, reused)
	}
}

func TestClient_UserAgent(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"default", nil, DefaultUserAgent},
		{"custom", []Option{WithUserAgent("devpulse/1.2.3")}, "devpulse/1.2.3"},
		{"empty keeps default", []Option{WithUserAgent("")}, DefaultUserAgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(chan string, 1)
			srv := okServer(t, seen)
			c := New(tt.opts...)
			defer c.Close()

			if err := get(context.Background(), c, srv.URL); err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if got := <-seen; got != tt.want {
				t.Errorf("User-Agent = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_RateLimit(t *testing.T) {
	srv := okServer(t, nil)
	c := New(WithRateLimit(20, 1)) // one request per 50ms
	defer c.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := get(context.Background(), c, srv.URL); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}

	// first request uses the burst token, the next two wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 requests took %v, expected rate limiting to slow them", elapsed)
	}
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := okServer(t, nil)
	c := New(WithRateLimit(0.1, 1)) // one request per 10s
	defer c.Close()

	if err := get(context.Background(), c, srv.URL); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := get(ctx, c, srv.URL)
	if err == nil {
		t.Fatal("expected error while waiting for rate limit")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request blocked for %v past its deadline", elapsed)
	}
	// the limiter gives up before the deadline passes; it is still a timeout
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want wrapping context.DeadlineExceeded", err)
	}
}

func TestLimitError(t *testing.T) {
	plain := errors.New("rate: Wait(n=1) would exceed context deadline")

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	pending, cancel2 := context.WithTimeout(context.Background(), time.Hour)
	defer cancel2()
	cancelled, cancel3 := context.WithCancel(context.Background())
	cancel3()

	tests := []struct {
		name string
		ctx  context.Context
		want error
	}{
		{"deadline passed", expired, context.DeadlineExceeded},
		{"deadline pending", pending, context.DeadlineExceeded},
		{"cancelled", cancelled, context.Canceled},
		{"no deadline", context.Background(), plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := limitError(tt.ctx, plain); !errors.Is(err, tt.want) {
				t.Errorf("limitError() = %v, want wrapping %v", err, tt.want)
			}
		})
	}
}

func TestClient_Close(t *testing.T) {
	c := New()
	c.Close()
	c.Close()

	var nilClient *Client
	nilClient.Close()
}
