package postgres

import (
	"errors"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var ErrNoDatabaseURL = errors.New("DATABASE_URL is not set")

// New connects with DATABASE_URL.
func New() (*sqlx.DB, error) {
	return Connect(os.Getenv("DATABASE_URL"))
}

func Connect(url string) (*sqlx.DB, error) {
	if url == "" {
		return nil, ErrNoDatabaseURL
	}

	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
