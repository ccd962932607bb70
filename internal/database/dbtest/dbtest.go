// Package dbtest opens an in-memory SQLite database with the service schema
// and a few fixtures, for package tests that need a real bun.DB.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-turnos/internal/database"
	"ms-turnos/internal/models"
)

// Fixture identifiers.
const (
	OpenVenueID   int64 = 1
	ClosedVenueID int64 = 2
	StudentID           = "student-1"
	OtherStudent        = "student-2"
	AdminID             = "admin-1"
	StudentCode         = "20231001"
)

// Open returns a migrated in-memory database that is closed when the test ends.
func Open(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// Every pooled connection to :memory: would otherwise see its own database.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.CreateSchema(context.Background(), db))
	return db
}

// OpenSeeded is Open plus the standard venues and users.
func OpenSeeded(t testing.TB) *bun.DB {
	t.Helper()
	db := Open(t)
	Seed(t, db)
	return db
}

func Seed(t testing.TB, db *bun.DB) {
	t.Helper()
	ctx := context.Background()

	venues := []models.Venue{
		{ID: OpenVenueID, Name: "Cafeteria Central", Status: models.VenueOpen, OpensAt: "07:00", ClosesAt: "15:00"},
		{ID: ClosedVenueID, Name: "Cafeteria Ingenieria", Status: models.VenueClosed, OpensAt: "11:30", ClosesAt: "14:00"},
	}
	_, err := db.NewInsert().Model(&venues).Exec(ctx)
	require.NoError(t, err)

	users := []models.User{
		{ID: AdminID, Username: "admin", StudentCode: "ADM0001", Role: models.RoleAdmin},
		{ID: StudentID, Username: "ana", StudentCode: StudentCode, Role: models.RoleStudent},
		{ID: OtherStudent, Username: "bruno", StudentCode: "20231002", Role: models.RoleStudent},
	}
	_, err = db.NewInsert().Model(&users).Exec(ctx)
	require.NoError(t, err)
}
