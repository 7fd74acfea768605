package telemetry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSendNoCollectorIsNoop(t *testing.T) {
	c := New("", "s3cr3t", nil)
	c.Send(EventAnalysisStart, map[string]any{"archetype": "node-fullstack"})
}

func TestSendNoSecretIsNoop(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	c := New(server.URL, "", nil)
	c.Send(EventAnalysisStart, nil)

	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no POST when the shared secret is absent, got %d", hits)
	}
}

func TestSendPostsEventBodyWithRawSecretHeader(t *testing.T) {
	const secret = "s3cr3t"
	var received Event
	var gotSig string
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		gotSig = r.Header.Get("X-Shared-Secret")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal posted body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, secret, nil)
	c.Send(EventWarning, map[string]any{"ruleName": "noDatabases"})

	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one POST, got %d", hits)
	}
	if received.EventType != EventWarning {
		t.Fatalf("expected eventType %q, got %q", EventWarning, received.EventType)
	}
	if received.Metadata["ruleName"] != "noDatabases" {
		t.Fatalf("expected metadata to round-trip, got %+v", received.Metadata)
	}
	if gotSig != secret {
		t.Fatalf("expected X-Shared-Secret to carry the raw secret %q, got %q", secret, gotSig)
	}
}

func TestSignedSendSignsBodyWithHMAC(t *testing.T) {
	const secret = "s3cr3t"
	var gotSig string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Shared-Secret")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, secret, nil)
	c.SignedSend(EventFatality, map[string]any{"ruleName": "noSecrets"})

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("expected HMAC signature %q, got %q", want, gotSig)
	}
}

func TestSendIgnoresCollectorFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, "s3cr3t", nil)
	c.Send(EventExempt, map[string]any{"ruleName": "noDatabases"})
}

func TestSendIgnoresUnreachableCollector(t *testing.T) {
	c := New("http://127.0.0.1:1", "s3cr3t", nil)
	c.Send(EventAnalysisEnd, nil)
}
