// Package db_client opens the Postgres connection pool backing the room
// history store.
package db_client

import (
	"database/sql"
	"net"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(host, port, user, pass, database string) (*sql.DB, error) {
	dsn := (&url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   database,
	}).String()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Transcript traffic is a steady trickle of short statements; a small
	// pool with recycled idle conns covers it.
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, db.Ping()
}
