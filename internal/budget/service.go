package budget

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/push"
	"github.com/arafsarkar/bazarbook/internal/session"
	"github.com/arafsarkar/bazarbook/internal/syncache"
)

// Status is the household's monthly budget as the backend reports it.
// Spent and Remaining are server-side aggregates; they are not recomputed
// from the grocery cache.
type Status struct {
	Limit     decimal.Decimal `json:"limit"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
}

// The budget is a singleton resource; the id is synthetic.
func (s Status) RecordID() string { return "budget" }

// Service mirrors the budget status. It listens on grocery events too,
// since spent moves whenever a purchase is logged.
type Service struct {
	cache  *syncache.Cache[Status]
	client *api.Client
}

func NewService(client *api.Client, sess *session.Session) *Service {
	return &Service{
		cache: syncache.New(client, sess, syncache.Config[Status]{
			Kind:       "budget",
			ListPath:   "/budget",
			PushEvents: []string{"budget-update", "grocery-update"},
			Decode: func(raw json.RawMessage) ([]Status, error) {
				if len(raw) == 0 {
					return nil, nil
				}
				var st Status
				if err := json.Unmarshal(raw, &st); err != nil {
					return nil, err
				}
				return []Status{st}, nil
			},
		}),
		client: client,
	}
}

func (s *Service) BindPush(ch *push.Channel) { s.cache.BindPush(ch) }

func (s *Service) Refresh(ctx context.Context, silent bool) { s.cache.Refresh(ctx, silent) }

func (s *Service) Loading() bool { return s.cache.Loading() }

// Status returns the current budget, zero-valued before the first fetch.
func (s *Service) Status() Status {
	items := s.cache.Items()
	if len(items) == 0 {
		return Status{}
	}
	return items[0]
}

type limitRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SetLimit persists a new monthly limit and refreshes the status, since the
// backend recomputes remaining.
func (s *Service) SetLimit(ctx context.Context, amount decimal.Decimal) error {
	if err := s.client.Post(ctx, "/budget", limitRequest{Amount: amount}, nil); err != nil {
		return err
	}
	s.cache.Refresh(ctx, false)
	return nil
}
