package notification

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/push"
	"github.com/arafsarkar/bazarbook/internal/session"
	"github.com/arafsarkar/bazarbook/internal/syncache"
)

const (
	TypeAnnouncement = "announcement"
	TypeGrocery      = "grocery"
	TypeSystem       = "system"
)

type Notification struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Type      string                 `json:"type"`
	RelatedID string                 `json:"relatedId,omitempty"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt string                 `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (n Notification) RecordID() string { return n.ID }

// The backend emits either `id` or a raw `_id` depending on the code path;
// accept both.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	aux := struct {
		*alias
		MongoID string `json:"_id"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = aux.MongoID
	}
	return nil
}

// pushPayload is the one event whose body is trusted: the notification
// channel sends the changed record along with the action.
type pushPayload struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Service is the notification cache plus its incrementally maintained
// unread counter. A pushed create is appended directly as a round-trip
// optimization; update and delete events are ambiguous on their own, so
// they fall back to a full silent refresh.
type Service struct {
	cache  *syncache.Cache[Notification]
	client *api.Client

	mu     sync.Mutex
	unread int
}

func NewService(client *api.Client, sess *session.Session) *Service {
	s := &Service{client: client}
	s.cache = syncache.New(client, sess, syncache.Config[Notification]{
		Kind:     "notifications",
		ListPath: "/notifications",
		ItemPath: func(id string) string { return "/notifications/" + id },
		// Push subscription is hand-wired in BindPush; the payload matters.
		OnReplace: s.resetUnread,
	})
	return s
}

func (s *Service) BindPush(ch *push.Channel) {
	ch.Subscribe("notification-update", s.handlePush)
}

func (s *Service) handlePush(payload json.RawMessage) {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("Malformed notification event, refetching: %v", err)
		s.cache.Refresh(context.Background(), true)
		return
	}

	if p.Action != "create" {
		s.cache.Refresh(context.Background(), true)
		return
	}

	var pushed Notification
	if err := json.Unmarshal(p.Data, &pushed); err != nil || pushed.ID == "" {
		s.cache.Refresh(context.Background(), true)
		return
	}

	duplicate := false
	s.cache.Mutate(func(items []Notification) []Notification {
		for _, n := range items {
			if n.ID == pushed.ID {
				duplicate = true
				return items
			}
		}
		return append([]Notification{pushed}, items...)
	})
	if !duplicate && !pushed.IsRead {
		s.mu.Lock()
		s.unread++
		s.mu.Unlock()
	}
}

func (s *Service) resetUnread(items []Notification) {
	count := 0
	for _, n := range items {
		if !n.IsRead {
			count++
		}
	}
	s.mu.Lock()
	s.unread = count
	s.mu.Unlock()
}

func (s *Service) Refresh(ctx context.Context, silent bool) { s.cache.Refresh(ctx, silent) }

func (s *Service) Items() []Notification { return s.cache.Items() }

func (s *Service) Loading() bool { return s.cache.Loading() }

func (s *Service) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// MarkAsRead flags one notification. On backend rejection the local state is
// reconciled with a silent refresh instead of being left diverged.
func (s *Service) MarkAsRead(ctx context.Context, id string) error {
	if err := s.client.Patch(ctx, "/notifications/"+id+"/read", nil, nil); err != nil {
		log.Printf("Failed to mark notification %s read, reconciling: %v", id, err)
		s.cache.Refresh(ctx, true)
		return err
	}

	changed := false
	s.cache.Mutate(func(items []Notification) []Notification {
		for i, n := range items {
			if n.ID == id && !n.IsRead {
				items[i].IsRead = true
				changed = true
			}
		}
		return items
	})
	if changed {
		s.mu.Lock()
		if s.unread > 0 {
			s.unread--
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Service) MarkAllAsRead(ctx context.Context) error {
	if err := s.client.Patch(ctx, "/notifications/mark-all-read", nil, nil); err != nil {
		log.Printf("Failed to mark all notifications read, reconciling: %v", err)
		s.cache.Refresh(ctx, true)
		return err
	}

	s.cache.Mutate(func(items []Notification) []Notification {
		for i := range items {
			items[i].IsRead = true
		}
		return items
	})
	s.mu.Lock()
	s.unread = 0
	s.mu.Unlock()
	return nil
}

// Delete removes a notification and recounts unread from the snapshot, since
// the removed record may have been an unread one.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.cache.Remove(ctx, id)
	s.resetUnread(s.cache.Items())
	return err
}
