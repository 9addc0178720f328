package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arafsarkar/bazarbook/internal/api"
)

type adminTokens struct{}

func (adminTokens) Token() (string, error) { return "admin-tok", nil }

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []User{
			{ID: "u1", Name: "Amina", Email: "amina@example.com", Role: "admin"},
			{ID: "u2", Name: "Rafi", Email: "rafi@example.com", Role: "user"},
		}})
	}))
	defer srv.Close()

	svc := NewService(api.NewClient(srv.URL, adminTokens{}))
	users, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Amina", users[0].Name)
}

func TestCreate_RejectsBadEmailBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	svc := NewService(api.NewClient(srv.URL, adminTokens{}))
	_, err := svc.Create(context.Background(), NewUser{Name: "X", Email: "nope", Password: "pw"})
	require.Error(t, err)
	assert.True(t, api.IsValidationError(err))
	assert.False(t, called)
}

func TestCreate_ReturnsServerRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var in NewUser
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": User{
			ID: "u3", Name: in.Name, Email: in.Email, Role: "user",
		}})
	}))
	defer srv.Close()

	svc := NewService(api.NewClient(srv.URL, adminTokens{}))
	created, err := svc.Create(context.Background(), NewUser{Name: "Nadia", Email: "nadia@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u3", created.ID)
	assert.Equal(t, "user", created.Role)
}

func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/user/u2", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"message": "deleted"})
	}))
	defer srv.Close()

	svc := NewService(api.NewClient(srv.URL, adminTokens{}))
	assert.NoError(t, svc.Delete(context.Background(), "u2"))
}
