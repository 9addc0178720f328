package need

import (
	"context"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/push"
	"github.com/arafsarkar/bazarbook/internal/session"
	"github.com/arafsarkar/bazarbook/internal/syncache"
)

// Item is a "we need this" announcement posted by a household member.
type Item struct {
	ID           string  `json:"id"`
	ProductName  string  `json:"productName"`
	Quantity     float64 `json:"quantity"`
	QuantityUnit string  `json:"quantityUnit"`
	AddedByName  string  `json:"addedByName"`
	IsBought     bool    `json:"isBought"`
	CreatedAt    string  `json:"createdAt"`
}

func (i Item) RecordID() string { return i.ID }

type NewItem struct {
	ProductName  string  `json:"productName"`
	Quantity     float64 `json:"quantity"`
	QuantityUnit string  `json:"quantityUnit"`
	AddedByName  string  `json:"addedByName"`
}

type Patch struct {
	ProductName  *string  `json:"productName,omitempty"`
	Quantity     *float64 `json:"quantity,omitempty"`
	QuantityUnit *string  `json:"quantityUnit,omitempty"`
	IsBought     *bool    `json:"isBought,omitempty"`
}

type Service struct {
	cache *syncache.Cache[Item]
}

func NewService(client *api.Client, sess *session.Session) *Service {
	return &Service{
		cache: syncache.New(client, sess, syncache.Config[Item]{
			Kind:       "needs",
			ListPath:   "/needs",
			CreatePath: "/needs",
			ItemPath:   func(id string) string { return "/needs/" + id },
			PushEvents: []string{"need-update"},
		}),
	}
}

func (s *Service) BindPush(ch *push.Channel) { s.cache.BindPush(ch) }

func (s *Service) Refresh(ctx context.Context, silent bool) { s.cache.Refresh(ctx, silent) }

func (s *Service) Items() []Item { return s.cache.Items() }

func (s *Service) Loading() bool { return s.cache.Loading() }

func (s *Service) Add(ctx context.Context, item NewItem) (Item, error) {
	return s.cache.Create(ctx, item)
}

func (s *Service) Update(ctx context.Context, id string, patch Patch) (Item, error) {
	return s.cache.Update(ctx, id, patch)
}

// MarkBought toggles the bought flag through a partial update.
func (s *Service) MarkBought(ctx context.Context, id string, bought bool) (Item, error) {
	return s.cache.Update(ctx, id, Patch{IsBought: &bought})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.cache.Remove(ctx, id)
}
