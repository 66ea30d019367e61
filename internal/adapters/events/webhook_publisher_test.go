package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

func submissionEvent(id string) domain.EventEnvelope {
	return domain.EventEnvelope{
		EventID:       id,
		EventType:     domain.EventSubmissionAccepted,
		SchemaVersion: domain.CurrentEventSchemaVersion,
		SubmissionID:  "sub-" + id,
		SessionID:     "sess-1",
		Actor:         "alice",
		Payload:       json.RawMessage(`{"nom":"Dupont"}`),
	}
}

func TestWebhookPublisherSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	secret := "test-secret"
	pub := NewWebhookPublisher(srv.URL, secret, 5*time.Second)
	event := submissionEvent("evt-1")

	if err := pub.Publish(context.Background(), "forms.submission.accepted", event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if topic := gotHeaders.Get(HeaderTopic); topic != "forms.submission.accepted" {
		t.Errorf("%s = %q", HeaderTopic, topic)
	}
	if et := gotHeaders.Get(HeaderEventType); et != domain.EventSubmissionAccepted {
		t.Errorf("%s = %q", HeaderEventType, et)
	}
	if d := gotHeaders.Get(HeaderDelivery); d != "evt-1" {
		t.Errorf("%s = %q", HeaderDelivery, d)
	}
	if s := gotHeaders.Get(HeaderSubmission); s != "sub-evt-1" {
		t.Errorf("%s = %q", HeaderSubmission, s)
	}

	if !VerifySignature([]byte(secret), gotBody, gotHeaders.Get(HeaderSignature)) {
		t.Errorf("signature %q does not verify", gotHeaders.Get(HeaderSignature))
	}
	if VerifySignature([]byte("other"), gotBody, gotHeaders.Get(HeaderSignature)) {
		t.Error("signature verified with wrong secret")
	}

	var decoded domain.EventEnvelope
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.SubmissionID != event.SubmissionID || string(decoded.Payload) != `{"nom":"Dupont"}` {
		t.Errorf("unexpected body: %+v", decoded)
	}
}

func TestWebhookPublisherNon2xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	err := pub.Publish(context.Background(), "forms.submission.accepted", submissionEvent("evt-2"))
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should mention status code 500, got: %v", err)
	}
}

func TestWebhookPublisherContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Publish(ctx, "forms.submission.accepted", submissionEvent("evt-3"))
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error to wrap context.Canceled, got: %v", err)
	}
}

func TestWebhookPublisherZeroTimeoutUsesDefault(t *testing.T) {
	pub := NewWebhookPublisher("http://localhost:9", "s", 0)
	if pub.client.Timeout != defaultWebhookTimeout {
		t.Errorf("timeout = %v, want %v", pub.client.Timeout, defaultWebhookTimeout)
	}
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	body := []byte(`{}`)
	if VerifySignature([]byte("s"), body, Sign([]byte("s"), body)) {
		t.Fatal("expected header without prefix to be rejected")
	}
}

func TestLogPublisherWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	pub := &LogPublisher{logger: log.New(&buf, "", 0)}

	if err := pub.Publish(context.Background(), "forms.submission.accepted", submissionEvent("evt-4")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"topic=forms.submission.accepted", "event_id=evt-4", "submission=sub-evt-4", "session=sess-1"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}
