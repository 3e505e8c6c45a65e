// MeasDB stores measurement messages received from the gateway.
// This database should only be written to by meas_collector
// but can be read by any service.
package measdb

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/NotCoffee418/sensor_gateway/pkg/pathing"
	"github.com/charmbracelet/log"

	_ "modernc.org/sqlite"
)

var (
	db   *sql.DB
	once sync.Once
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Initialize must be called manually on startup
func InitializeDatabase() {
	// Create DB before migrations
	db := GetDB()
	if _, err := db.Exec("SELECT 1;"); err != nil {
		log.Warnf("Could not create DB: %v", err)
	}

	// Apply migrations
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)
}

func GetDB() *sql.DB {
	once.Do(func() {
		var err error
		db, err = Open(pathing.GetMeasDbPath())
		if err != nil {
			log.Fatal("failed to open database", "err", err)
		}
	})
	return db
}

// UseDB replaces the database GetDB returns.
func UseDB(d *sql.DB) {
	once.Do(func() {})
	db = d
}

func Open(path string) (*sql.DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := d.Ping(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", path, err)
	}
	// SQLite allows a single writer
	d.SetMaxOpenConns(1)
	return d, nil
}

// ApplySchema runs the up section of every embedded migration directly,
// without migration bookkeeping. Used for scratch and test databases.
func ApplySchema(d *sql.DB) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		content, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		up, _, _ := strings.Cut(string(content), "-- +down")
		up = strings.TrimPrefix(strings.TrimSpace(up), "-- +up")
		if _, err := d.Exec(up); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
	}
	return nil
}
