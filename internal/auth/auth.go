// Package auth hides the password hashing scheme behind a small interface;
// the rest of the server treats credentials as opaque hash/verify pairs.
package auth

import "github.com/alexedwards/argon2id"

type Service interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

type service struct {
	params *argon2id.Params
}

func New() Service {
	return &service{params: argon2id.DefaultParams}
}

func (s *service) Hash(password string) (string, error) {
	return argon2id.CreateHash(password, s.params)
}

func (s *service) Verify(password, hash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(password, hash)
}
