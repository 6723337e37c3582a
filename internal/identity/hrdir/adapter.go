// Package hrdir reads the legacy HR directory (SQL Server) to resolve
// a user's home location when a principal is first seen. The directory
// is read-only from our side; lookups are best-effort.
package hrdir

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/zeitwerk/platform/internal/shared/config"
	"github.com/zeitwerk/platform/internal/shared/types"
)

// Adapter implements identity.LocationDirectory against the HR database.
type Adapter struct {
	db *sql.DB
}

// Open connects to the HR directory and verifies the connection.
func Open(ctx context.Context, cfg config.HRDirectoryConfig) (*Adapter, error) {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	if cfg.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("open hr directory: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping hr directory: %w", err)
	}
	return &Adapter{db: db}, nil
}

// LocationFor returns the location assigned to the employee with the
// given corporate email address.
func (a *Adapter) LocationFor(ctx context.Context, email string) (types.ID, error) {
	var locationID types.ID
	err := a.db.QueryRowContext(ctx, `
		SELECT TOP 1 LocationGuid
		FROM dbo.Employees
		WHERE LOWER(Email) = LOWER(@p1) AND Active = 1`,
		email,
	).Scan(&locationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("no hr record for %s", email)
		}
		return "", fmt.Errorf("query hr directory: %w", err)
	}
	return locationID, nil
}

// Close releases the database connection.
func (a *Adapter) Close() error {
	return a.db.Close()
}
