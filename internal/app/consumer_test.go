package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lendcircle/trust-service/internal/domain"
)

func TestHandleMessage_SeedsBalanceFromScore(t *testing.T) {
	repo := newLedgerRepoStub()
	scores := &scoreAdapterStub{score: 0.9}
	svc := newTestService(repo, scores, nil)
	consumer := NewCourseCompletionConsumer(svc)

	userID := uuid.New()
	body, err := json.Marshal(domain.CourseCompletedEvent{
		UserID:      userID,
		Identity:    "graph-node-42",
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	if ack := consumer.HandleMessage(body); !ack {
		t.Fatal("valid event was not acknowledged")
	}
	if got := repo.balance(t, userID); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestHandleMessage_AcksMalformedPayloads(t *testing.T) {
	repo := newLedgerRepoStub()
	svc := newTestService(repo, nil, nil)
	consumer := NewCourseCompletionConsumer(svc)

	cases := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte("not-json")},
		{name: "missing user id", body: []byte(`{"identity":"x"}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Malformed payloads can never succeed on redelivery, so they
			// must be acknowledged rather than requeued.
			if ack := consumer.HandleMessage(tc.body); !ack {
				t.Error("malformed payload was requeued")
			}
		})
	}
}

func TestHandleMessage_FallsBackToUserIDIdentity(t *testing.T) {
	repo := newLedgerRepoStub()
	scores := &scoreAdapterStub{score: 0.6}
	svc := newTestService(repo, scores, nil)
	consumer := NewCourseCompletionConsumer(svc)

	userID := uuid.New()
	body := []byte(`{"user_id":"` + userID.String() + `"}`)

	if ack := consumer.HandleMessage(body); !ack {
		t.Fatal("event without identity was not acknowledged")
	}
	if got := repo.balance(t, userID); got != 5 {
		t.Errorf("balance = %d, want 5", got)
	}
}
