package user

import (
	"context"

	"github.com/badoux/checkmail"

	"github.com/arafsarkar/bazarbook/internal/api"
)

// User is a household member as the admin endpoints report it.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

type NewUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Service wraps the admin user-management endpoints. Members are fetched on
// demand; the admin screens are rare enough that no cache mirrors them.
type Service struct {
	client *api.Client
}

func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

func (s *Service) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.client.Get(ctx, "/user", &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Service) Create(ctx context.Context, u NewUser) (User, error) {
	if err := checkmail.ValidateFormat(u.Email); err != nil {
		return User{}, api.NewValidationError("email address is not valid")
	}
	var created User
	if err := s.client.Post(ctx, "/user", u, &created); err != nil {
		return User{}, err
	}
	return created, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.client.Delete(ctx, "/user/"+id)
}
