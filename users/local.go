package users

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
)

// LocalAccount is a statically configured portal account.
type LocalAccount struct {
	Email        string   `yaml:"email" json:"email"`
	Name         string   `yaml:"name" json:"name"`
	PasswordHash string   `yaml:"password_hash" json:"-"`
	Role         RoleType `yaml:"role,omitempty" json:"role,omitempty"`
	Department   string   `yaml:"department,omitempty" json:"department,omitempty"`
}

// LocalDirectory is an in-memory Directory over bcrypt hashes.
type LocalDirectory struct {
	accounts map[string]LocalAccount
	lock     sync.RWMutex
}

var _ Directory = (*LocalDirectory)(nil)

// Compared against when the email is unknown so both paths cost one bcrypt comparison.
var dummyHash = func() string {
	h, _ := HashPassword("portal-dummy-password")
	return h
}()

func NewLocalDirectory(accounts []LocalAccount) (*LocalDirectory, error) {
	d := &LocalDirectory{accounts: make(map[string]LocalAccount, len(accounts))}
	for _, a := range accounts {
		email := strings.ToLower(strings.TrimSpace(a.Email))
		if email == "" || a.PasswordHash == "" {
			return nil, fmt.Errorf("[users.NewLocalDirectory] account %q needs an email and password_hash", a.Email)
		}
		if a.Role != "" && !a.Role.Valid() {
			return nil, fmt.Errorf("[users.NewLocalDirectory] account %q has unknown role %q", email, a.Role)
		}
		if _, dup := d.accounts[email]; dup {
			return nil, fmt.Errorf("[users.NewLocalDirectory] duplicate account %q", email)
		}
		a.Email = email
		d.accounts[email] = a
	}
	return d, nil
}

// Authenticate checks email and password. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (d *LocalDirectory) Authenticate(_ context.Context, email, password string) (*LocalAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	d.lock.RLock()
	account, ok := d.accounts[email]
	d.lock.RUnlock()

	if !ok {
		CheckPasswordHash(password, dummyHash)
		return nil, apperrors.ErrInvalidCredentials
	}
	if password == "" || !CheckPasswordHash(password, account.PasswordHash) {
		return nil, apperrors.ErrInvalidCredentials
	}
	return &account, nil
}

func (d *LocalDirectory) Len() int {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.accounts)
}
