package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EventMirror copies outbound frames to Redis pub/sub so other backend
// processes (moderation, analytics) can watch a live session, and keeps a
// presence key alive while the session is connected. Everything here is
// best-effort: a Redis hiccup never touches the conversation.
type EventMirror struct {
	rdb *redis.Client
	log *logrus.Entry
	ttl time.Duration
}

func NewEventMirror(rdb *redis.Client, log *logrus.Entry, presenceTTL time.Duration) *EventMirror {
	if presenceTTL <= 0 {
		presenceTTL = 30 * time.Second
	}
	return &EventMirror{rdb: rdb, log: log, ttl: presenceTTL}
}

func eventsChannel(sessionID string) string { return "session:" + sessionID + ":events" }
func presenceKey(sessionID string) string   { return "session:" + sessionID + ":presence" }

func (m *EventMirror) Publish(sessionID string, payload []byte) {
	if m == nil || m.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.Publish(ctx, eventsChannel(sessionID), payload).Err(); err != nil {
		m.log.WithError(err).WithField("session_id", sessionID).Debug("event mirror publish failed")
	}
}

func (m *EventMirror) Touch(sessionID string) {
	if m == nil || m.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.Set(ctx, presenceKey(sessionID), "1", m.ttl).Err(); err != nil {
		m.log.WithError(err).WithField("session_id", sessionID).Debug("presence refresh failed")
	}
}

func (m *EventMirror) Drop(sessionID string) {
	if m == nil || m.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.Del(ctx, presenceKey(sessionID)).Err(); err != nil {
		m.log.WithError(err).WithField("session_id", sessionID).Debug("presence delete failed")
	}
}
