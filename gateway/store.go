package gateway

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/moddengine/photoproxy/logger"
)

const reqTable string = `
  CREATE TABLE IF NOT EXISTS reqdata (
      hash TEXT NOT NULL PRIMARY KEY,
      httpdata BLOB NOT NULL,
      expiry INT NOT NULL
  )
`

const expiryIndex string = `CREATE INDEX IF NOT EXISTS reqdata_expiry ON reqdata (expiry)`

const DefaultDatabase string = "data/cache.db"

// Store persists dumped upstream responses in SQLite.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewStore(filename string) (*Store, error) {
	if filename == "" {
		filename = DefaultDatabase
	}
	db, err := sql.Open("sqlite3", "file:"+filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}

	for _, stmt := range []string{reqTable, expiryIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &Store{
		db:  db,
		log: logger.New("store"),
	}, nil
}

func (store *Store) Close() error {
	return store.db.Close()
}

func (store *Store) DeleteBefore(expiry int64) (int64, error) {
	res, err := store.db.Exec("DELETE FROM reqdata WHERE expiry < ?", expiry)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetResponse returns the stored response for hash unless it expired before now.
func (store *Store) GetResponse(hash string, now int64) ([]byte, bool) {
	row := store.db.QueryRow("SELECT httpdata FROM reqdata WHERE hash = ? AND expiry >= ?", hash, now)
	var data []byte
	err := row.Scan(&data)
	if err == nil {
		return data, true
	}
	if !errors.Is(err, sql.ErrNoRows) {
		store.log.Err(err).Str("hash", hash).Msg("Failed to read cached response")
	}
	return nil, false
}

func (store *Store) StoreResponse(hash string, res []byte, expiry int64) error {
	_, err := store.db.Exec("INSERT OR REPLACE INTO reqdata (hash, httpdata, expiry) VALUES (?,?,?)",
		hash,
		res,
		expiry,
	)
	return err
}
