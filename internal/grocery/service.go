package grocery

import (
	"context"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/push"
	"github.com/arafsarkar/bazarbook/internal/session"
	"github.com/arafsarkar/bazarbook/internal/syncache"
)

// Item is one logged purchase. Date is the purchase day as a local
// YYYY-MM-DD string; all totals compare it lexically.
type Item struct {
	ID           string          `json:"id"`
	ItemName     string          `json:"itemName"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	QuantityUnit string          `json:"quantityUnit"`
	Category     string          `json:"category"`
	AddedByName  string          `json:"addedByName"`
	Pieces       *int            `json:"pieces,omitempty"`
	Date         string          `json:"date"`
	CreatedAt    string          `json:"createdAt"`
}

func (i Item) RecordID() string { return i.ID }

// NewItem is the create payload; id and createdAt are server-assigned.
type NewItem struct {
	ItemName     string          `json:"itemName"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	QuantityUnit string          `json:"quantityUnit"`
	Category     string          `json:"category"`
	AddedByName  string          `json:"addedByName"`
	Pieces       *int            `json:"pieces,omitempty"`
	Date         string          `json:"date"`
}

// Patch is a partial update; nil fields are left untouched by the backend.
type Patch struct {
	ItemName     *string          `json:"itemName,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	QuantityUnit *string          `json:"quantityUnit,omitempty"`
	Category     *string          `json:"category,omitempty"`
	Pieces       *int             `json:"pieces,omitempty"`
	Date         *string          `json:"date,omitempty"`
}

type MonthlyStat struct {
	ID struct {
		Month int `json:"month"`
		Year  int `json:"year"`
	} `json:"_id"`
	Count      int             `json:"count"`
	TotalSpent decimal.Decimal `json:"totalSpent"`
}

type UserStat struct {
	ID         string          `json:"_id"`
	Count      int             `json:"count"`
	TotalSpent decimal.Decimal `json:"totalSpent"`
}

type AnalyticsData struct {
	MonthlyStats []MonthlyStat `json:"monthlyStats"`
	UserStats    []UserStat    `json:"userStats"`
}

// ContributorShare is one household member's slice of the current month.
type ContributorShare struct {
	Name    string
	Total   decimal.Decimal
	Percent decimal.Decimal
}

// Service owns the grocery cache and the spend computations derived from it.
type Service struct {
	cache  *syncache.Cache[Item]
	client *api.Client
	clock  clockwork.Clock
}

func NewService(client *api.Client, sess *session.Session, clock clockwork.Clock) *Service {
	return &Service{
		cache: syncache.New(client, sess, syncache.Config[Item]{
			Kind:       "groceries",
			ListPath:   "/grocery",
			CreatePath: "/grocery",
			ItemPath:   func(id string) string { return "/grocery/" + id },
			PushEvents: []string{"grocery-update"},
		}),
		client: client,
		clock:  clock,
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

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.cache.Remove(ctx, id)
}

// TodayTotal sums price*quantity over today's purchases.
func (s *Service) TodayTotal() decimal.Decimal {
	today := s.clock.Now().Format("2006-01-02")
	total := decimal.Zero
	for _, item := range s.cache.Items() {
		if item.Date == today {
			total = total.Add(item.Price.Mul(item.Quantity))
		}
	}
	return total
}

// MonthTotal sums price*quantity over the current calendar month.
func (s *Service) MonthTotal() decimal.Decimal {
	month := s.clock.Now().Format("2006-01")
	total := decimal.Zero
	for _, item := range s.cache.Items() {
		if len(item.Date) >= len(month) && item.Date[:len(month)] == month {
			total = total.Add(item.Price.Mul(item.Quantity))
		}
	}
	return total
}

// ContributorBreakdown groups the current month's purchases by who logged
// them, largest share first. Shares are 0% when the month has no spend.
func (s *Service) ContributorBreakdown() []ContributorShare {
	month := s.clock.Now().Format("2006-01")
	totals := map[string]decimal.Decimal{}
	monthTotal := decimal.Zero

	for _, item := range s.cache.Items() {
		if len(item.Date) < len(month) || item.Date[:len(month)] != month {
			continue
		}
		name := item.AddedByName
		if name == "" {
			name = "Unknown"
		}
		amount := item.Price.Mul(item.Quantity)
		totals[name] = totals[name].Add(amount)
		monthTotal = monthTotal.Add(amount)
	}

	shares := make([]ContributorShare, 0, len(totals))
	for name, total := range totals {
		share := ContributorShare{Name: name, Total: total, Percent: decimal.Zero}
		if !monthTotal.IsZero() {
			share.Percent = total.Div(monthTotal).Mul(decimal.NewFromInt(100))
		}
		shares = append(shares, share)
	}
	sort.Slice(shares, func(i, j int) bool {
		if !shares[i].Total.Equal(shares[j].Total) {
			return shares[i].Total.GreaterThan(shares[j].Total)
		}
		return shares[i].Name < shares[j].Name
	})
	return shares
}

// Analytics fetches the backend's own aggregates. These are computed
// server-side and may not agree instantaneously with the local totals.
func (s *Service) Analytics(ctx context.Context) (*AnalyticsData, error) {
	var data AnalyticsData
	if err := s.client.Get(ctx, "/grocery/analytics", &data); err != nil {
		return nil, err
	}
	return &data, nil
}
