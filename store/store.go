package store

import (
	"github.com/pkg/errors"

	"github.com/hrygo/tps/internal/profile"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("not found")

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}
