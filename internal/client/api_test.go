package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(serverURL string) *Client {
	cfg := &Config{Token: "secret", APIURL: serverURL, TimeoutSeconds: 5}
	return NewClient(cfg, "test").WithRetryPolicy(RetryPolicy{Attempts: 4, Unit: time.Millisecond})
}

func TestFetchMessagesSendsCursorAndToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels/55/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("after") != "1000" {
			t.Errorf("expected after=1000, got %q", r.URL.Query().Get("after"))
		}
		if r.URL.Query().Get("limit") != "100" {
			t.Errorf("expected limit=100, got %q", r.URL.Query().Get("limit"))
		}
		if r.Header.Get("Authorization") != "secret" {
			t.Errorf("expected token header, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Errorf("expected request id header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1001","type":0,"timestamp":"2023-05-01T10:00:00.000000+00:00","content":"hi","author":{"username":"a","id":"1"},"attachments":[],"embeds":[]}]`))
	}))
	defer server.Close()

	messages, err := testClient(server.URL).FetchMessages(context.Background(), 55, 1000)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != 1001 {
		t.Fatalf("expected one message with id 1001, got %+v", messages)
	}
	if messages[0].Timestamp == nil || messages[0].Timestamp.Hour() != 10 {
		t.Fatalf("expected parsed timestamp, got %v", messages[0].Timestamp)
	}
}

func TestFetchMessagesRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		case 3:
			_, _ = w.Write([]byte(`{"not":"a list"`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	messages, err := testClient(server.URL).FetchMessages(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("expected recovery after 3 transient failures, got %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty page, got %d messages", len(messages))
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", atomic.LoadInt32(&calls))
	}
}

func TestFetchMessagesSurfacesTerminalError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchMessages(context.Background(), 1, 0)
	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryError, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected wrapped 502, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", atomic.LoadInt32(&calls))
	}
}

func TestFetchMessagesDoesNotRetryForbidden(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Missing Access"}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchMessages(context.Background(), 1, 0)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 HTTPError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", atomic.LoadInt32(&calls))
	}
}

func TestFetchGuildChannelsDecodesBothShapes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/guilds/7/channels" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[
			{"type":0,"id":"1","guild_id":"7","name":"general","parent_id":null,"last_message_id":"5","topic":null},
			{"type":2,"id":"2","guild_id":"7","name":"voice","parent_id":null,"last_message_id":null,"topic":null}
		]`))
	}))
	defer server.Close()

	channels, err := testClient(server.URL).FetchGuildChannels(context.Background(), 7)
	if err != nil {
		t.Fatalf("fetch channels failed: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if !channels[0].IsText() || channels[1].IsText() {
		t.Fatalf("expected only the first channel to be text")
	}
}

func TestDownloadWritesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no token on attachment download")
		}
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	var buf bytes.Buffer
	n, err := testClient(server.URL).Download(context.Background(), server.URL+"/a.png", &buf)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if n != int64(len("png-bytes")) || buf.String() != "png-bytes" {
		t.Fatalf("unexpected body %q (%d bytes)", buf.String(), n)
	}
}

func TestDownloadOutlastsRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for range 3 {
			time.Sleep(600 * time.Millisecond)
			_, _ = w.Write([]byte("chunk"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	cfg := &Config{Token: "secret", APIURL: server.URL, TimeoutSeconds: 1}
	c := NewClient(cfg, "test").WithRetryPolicy(RetryPolicy{Attempts: 1, Unit: time.Millisecond})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), server.URL+"/big.bin", &buf)
	if err != nil {
		t.Fatalf("expected slow download to complete, got %v", err)
	}
	if n != 15 || buf.String() != "chunkchunkchunk" {
		t.Fatalf("unexpected body %q (%d bytes)", buf.String(), n)
	}
}

func TestCurrentUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"42","username":"alice","discriminator":"0","avatar":null}`))
	}))
	defer server.Close()

	user, err := testClient(server.URL).CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser failed: %v", err)
	}
	if user.ID != 42 || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
}
