// Package db selects the concrete store driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/ticketflow/ticketflow/internal/profile"
	"github.com/ticketflow/ticketflow/store"
	"github.com/ticketflow/ticketflow/store/db/postgres"
	"github.com/ticketflow/ticketflow/store/db/sqlite"
)

// NewDBDriver creates a new DB driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
