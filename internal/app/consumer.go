package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lendcircle/trust-service/internal/domain"
)

// CourseCompletionConsumer handles course.completed events from the course
// platform. Finishing the course is what seeds a user's trust balance from
// their ego score.
type CourseCompletionConsumer struct {
	svc *Service
}

func NewCourseCompletionConsumer(svc *Service) *CourseCompletionConsumer {
	return &CourseCompletionConsumer{svc: svc}
}

// HandleMessage is the RabbitMQ binding target. Returning true acknowledges
// the delivery; false re-queues it.
func (c *CourseCompletionConsumer) HandleMessage(body []byte) bool {
	var event domain.CourseCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("course-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.UserID == uuid.Nil {
		log.Printf("course-consumer: missing user id in event %+v", event)
		return true
	}
	identity := event.Identity
	if identity == "" {
		identity = event.UserID.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	account, err := c.svc.InitializeFromExternalScore(ctx, event.UserID, identity)
	if err != nil {
		log.Printf("course-consumer: initialization error for user %s: %v", event.UserID, err)
		return false
	}

	log.Printf("course-consumer: initialized user %s at balance %d", event.UserID, account.Balance)
	return true
}
