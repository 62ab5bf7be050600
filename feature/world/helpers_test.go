package world

import (
	"context"
	"testing"

	"world-sync/core/database"
	"world-sync/core/keypath"
	"world-sync/core/transport"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

// brokenSessions opens transports whose reads and writes fail.
type brokenSessions struct{}

func (brokenSessions) Open(string) transport.Transport {
	return brokenTransport{Transport: transport.NewMemoryHub(nil).Join("broken")}
}

type brokenTransport struct {
	transport.Transport
}

func (brokenTransport) State(context.Context) (keypath.Flat, error) {
	return nil, assertErr
}

func (brokenTransport) Publish(context.Context, keypath.Flat) error {
	return assertErr
}

// fakeWatcher replays a fixed list of notifications.
type fakeWatcher struct {
	notes []transport.Notification
}

func (w fakeWatcher) Run(ctx context.Context, handle func(transport.Notification)) error {
	for _, n := range w.notes {
		handle(n)
	}
	return nil
}

func newRepo(db *gorm.DB) *database.Repository {
	return database.NewRepository(db)
}

func mockRows(columns []string, values ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows(columns)
	for _, v := range values {
		rows.AddRow(v)
	}
	return rows
}
