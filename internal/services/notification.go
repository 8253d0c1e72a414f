package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/HammerMeetNail/friendlane/internal/logging"
)

const (
	EventRelationshipRequested = "relationship.requested"
	EventRelationshipAccepted  = "relationship.accepted"
	notificationTimeout        = 10 * time.Second
)

// RelationshipEvent is the JSON body published for relationship changes.
type RelationshipEvent struct {
	Type        string    `json:"type"`
	ActorID     string    `json:"actor_id"`
	RecipientID string    `json:"recipient_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NotificationService tells the other party about relationship changes by
// email and on the event bus. Delivery is asynchronous and best effort.
type NotificationService struct {
	profiles ProfileGetter
	email    EmailSender
	events   EventPublisher
	baseURL  string
	logger   *logging.Logger

	asyncCtx context.Context
	async    func(fn func())
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewNotificationService(profiles ProfileGetter, email EmailSender, baseURL string) *NotificationService {
	s := &NotificationService{
		profiles: profiles,
		email:    email,
		baseURL:  baseURL,
		logger:   logging.Default,
		asyncCtx: context.Background(),
		now:      time.Now,
	}
	s.async = func(fn func()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fn()
		}()
	}
	return s
}

func (s *NotificationService) SetEventPublisher(events EventPublisher) {
	s.events = events
}

func (s *NotificationService) SetLogger(logger *logging.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetAsyncContext sets the parent context for deliveries, which outlive the
// request that triggered them.
func (s *NotificationService) SetAsyncContext(ctx context.Context) {
	s.asyncCtx = ctx
}

func (s *NotificationService) SetAsync(async func(fn func())) {
	if async != nil {
		s.async = async
	}
}

// Wait blocks until in-flight deliveries finish.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) RelationshipRequested(ctx context.Context, fromID, toID string) {
	s.dispatch(EventRelationshipRequested, fromID, toID)
}

func (s *NotificationService) RelationshipAccepted(ctx context.Context, accepterID, initiatorID string) {
	s.dispatch(EventRelationshipAccepted, accepterID, initiatorID)
}

func (s *NotificationService) dispatch(eventType, actorID, recipientID string) {
	event := RelationshipEvent{
		Type:        eventType,
		ActorID:     actorID,
		RecipientID: recipientID,
		OccurredAt:  s.now().UTC(),
	}
	s.async(func() {
		parent := s.asyncCtx
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithTimeout(parent, notificationTimeout)
		defer cancel()

		if err := s.publish(ctx, event); err != nil {
			s.logger.Warn("Relationship event publish failed", map[string]interface{}{
				"type":  eventType,
				"error": err.Error(),
			})
		}
		if err := s.sendEmail(ctx, event); err != nil {
			s.logger.Warn("Relationship email failed", map[string]interface{}{
				"type":  eventType,
				"error": err.Error(),
			})
		}
	})
}

func (s *NotificationService) publish(ctx context.Context, event RelationshipEvent) error {
	if s.events == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.events.Publish(ctx, event.Type, payload)
}

func (s *NotificationService) sendEmail(ctx context.Context, event RelationshipEvent) error {
	if s.email == nil || s.profiles == nil {
		return nil
	}
	recipient, err := s.profiles.GetByID(ctx, event.RecipientID)
	if err != nil {
		return fmt.Errorf("loading recipient: %w", err)
	}
	if recipient.Email == "" {
		return nil
	}

	actorName := "Someone"
	if actor, err := s.profiles.GetByID(ctx, event.ActorID); err == nil {
		actorName = profileLabel(actor.DisplayName.Full(), actor.Username)
	}

	subject, html, text := s.buildRelationshipEmail(event.Type, actorName)
	return s.email.SendNotificationEmail(ctx, recipient.Email, subject, html, text)
}

func (s *NotificationService) buildRelationshipEmail(eventType, actorName string) (string, string, string) {
	friendsURL := s.baseURL + "/#friends"

	var subject, line string
	switch eventType {
	case EventRelationshipAccepted:
		subject = fmt.Sprintf("%s accepted your friend request", actorName)
		line = fmt.Sprintf("%s accepted your friend request.", actorName)
	default:
		subject = fmt.Sprintf("%s sent you a friend request", actorName)
		line = fmt.Sprintf("%s would like to be friends.", actorName)
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
<p>%s</p>
<p><a href="%s">Open your friends list</a></p>
</body>
</html>`, templateEscape(line), templateEscape(friendsURL))
	text := fmt.Sprintf("%s\n\nOpen your friends list: %s\n", line, friendsURL)
	return subject, html, text
}

func profileLabel(displayName, username string) string {
	if displayName != "" {
		return displayName
	}
	if username != "" {
		return "@" + username
	}
	return "Someone"
}
