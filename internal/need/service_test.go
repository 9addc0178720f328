package need

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/secure"
	"github.com/arafsarkar/bazarbook/internal/session"
)

type needBackend struct {
	mu    sync.Mutex
	items []Item
}

func (b *needBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{"data": b.items})
		case http.MethodPost:
			var in NewItem
			json.NewDecoder(r.Body).Decode(&in)
			created := Item{
				ID:           "need-1",
				ProductName:  in.ProductName,
				Quantity:     in.Quantity,
				QuantityUnit: in.QuantityUnit,
				AddedByName:  in.AddedByName,
			}
			b.items = append([]Item{created}, b.items...)
			json.NewEncoder(w).Encode(map[string]interface{}{"data": created})
		case http.MethodPatch:
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			var patch Patch
			json.NewDecoder(r.Body).Decode(&patch)
			for i := range b.items {
				if b.items[i].ID == id {
					if patch.IsBought != nil {
						b.items[i].IsBought = *patch.IsBought
					}
					if patch.ProductName != nil {
						b.items[i].ProductName = *patch.ProductName
					}
					json.NewEncoder(w).Encode(map[string]interface{}{"data": b.items[i]})
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "need not found"})
		case http.MethodDelete:
			id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			kept := b.items[:0:0]
			for _, it := range b.items {
				if it.ID != id {
					kept = append(kept, it)
				}
			}
			b.items = kept
			json.NewEncoder(w).Encode(map[string]string{"message": "deleted"})
		}
	})
}

func newService(t *testing.T, b *needBackend) *Service {
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
		"id": "u1", "name": "Amina", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, store.Set(secure.KeyAccessToken, signed))
	require.NoError(t, sess.Load())
	return svc
}

func TestAdd_PrependsServerRecord(t *testing.T) {
	b := &needBackend{items: []Item{{ID: "n0", ProductName: "Salt"}}}
	svc := newService(t, b)

	created, err := svc.Add(context.Background(), NewItem{
		ProductName: "Onions", Quantity: 2, QuantityUnit: "kg", AddedByName: "Amina",
	})
	require.NoError(t, err)
	assert.Equal(t, "need-1", created.ID)

	items := svc.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Onions", items[0].ProductName)
	assert.False(t, items[0].IsBought)
}

func TestMarkBought_PatchesFlagInPlace(t *testing.T) {
	b := &needBackend{items: []Item{{ID: "n1", ProductName: "Onions"}, {ID: "n2", ProductName: "Salt"}}}
	svc := newService(t, b)

	updated, err := svc.MarkBought(context.Background(), "n1", true)
	require.NoError(t, err)
	assert.True(t, updated.IsBought)

	items := svc.Items()
	require.Len(t, items, 2)
	assert.True(t, items[0].IsBought)
	assert.False(t, items[1].IsBought)
}

func TestUpdate_MissingRecordSurfacesMessage(t *testing.T) {
	b := &needBackend{}
	svc := newService(t, b)

	_, err := svc.Update(context.Background(), "ghost", Patch{})
	require.Error(t, err)
	assert.Equal(t, "need not found", err.Error())
}

func TestDelete_RemovesFromCache(t *testing.T) {
	b := &needBackend{items: []Item{{ID: "n1"}, {ID: "n2"}}}
	svc := newService(t, b)

	require.NoError(t, svc.Delete(context.Background(), "n1"))

	items := svc.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "n2", items[0].ID)
}
