package budget

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/secure"
	"github.com/arafsarkar/bazarbook/internal/session"
)

func num(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

type budgetBackend struct {
	mu     sync.Mutex
	status Status
}

func (b *budgetBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		if r.Method == http.MethodPost {
			var in struct {
				Amount decimal.Decimal `json:"amount"`
			}
			json.NewDecoder(r.Body).Decode(&in)
			b.status.Limit = in.Amount
			b.status.Remaining = in.Amount.Sub(b.status.Spent)
			json.NewEncoder(w).Encode(map[string]string{"message": "limit set"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": b.status})
	})
}

func newService(t *testing.T, b *budgetBackend) *Service {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	store, err := secure.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := api.NewClient(srv.URL, store)
	sess := session.New(store, client, clockwork.NewRealClock())
	svc := NewService(client, sess)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id": "u1", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, store.Set(secure.KeyAccessToken, signed))
	require.NoError(t, sess.Load())
	return svc
}

func TestStatus_DecodedFromSingleObject(t *testing.T) {
	b := &budgetBackend{status: Status{Limit: num("5000"), Spent: num("1200"), Remaining: num("3800")}}
	svc := newService(t, b)

	st := svc.Status()
	assert.True(t, st.Limit.Equal(num("5000")))
	assert.True(t, st.Spent.Equal(num("1200")))
	assert.True(t, st.Remaining.Equal(num("3800")))
	assert.False(t, svc.Loading())
}

func TestStatus_ZeroBeforeFirstFetch(t *testing.T) {
	// Construct without signing in: the session never authenticates.
	srv := httptest.NewServer((&budgetBackend{}).handler())
	defer srv.Close()

	store, err := secure.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	client := api.NewClient(srv.URL, store)
	sess := session.New(store, client, clockwork.NewRealClock())
	svc := NewService(client, sess)

	st := svc.Status()
	assert.True(t, st.Limit.IsZero())
	assert.True(t, svc.Loading())
}

func TestSetLimit_PersistsAndRefreshes(t *testing.T) {
	b := &budgetBackend{status: Status{Spent: num("700")}}
	svc := newService(t, b)

	require.NoError(t, svc.SetLimit(context.Background(), num("4000")))

	st := svc.Status()
	assert.True(t, st.Limit.Equal(num("4000")))
	assert.True(t, st.Remaining.Equal(num("3300")))
}

func TestSetLimit_SurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"message": "amount must be positive"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": Status{}})
	}))
	defer srv.Close()

	store, err := secure.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	client := api.NewClient(srv.URL, store)
	sess := session.New(store, client, clockwork.NewRealClock())
	svc := NewService(client, sess)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id": "u1", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, store.Set(secure.KeyAccessToken, signed))
	require.NoError(t, sess.Load())

	err = svc.SetLimit(context.Background(), num("-1"))
	require.Error(t, err)
	assert.Equal(t, "amount must be positive", err.Error())
}
