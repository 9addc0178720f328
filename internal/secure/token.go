package secure

// Token exposes the stored access token as an api.TokenSource. An absent
// token is reported as "", not as an error.
func (s *Store) Token() (string, error) {
	return s.Get(KeyAccessToken)
}
