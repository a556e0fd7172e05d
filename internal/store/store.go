// Package store persists posts in an embedded SQLite database used as a
// key-value table. A single background worker owns the database handle;
// every access goes through its request channel, so there is no lock to
// contend on at the storage layer.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.

	"github.com/relativehysteria/nia/internal/domain"
)

// ErrStoreClosed is returned for requests issued after the worker has shut
// down, cleanly or fatally. Err distinguishes the two.
var ErrStoreClosed = errors.New("store is closed")

const requestQueueSize = 64

//go:embed migrations/*.sql
var migrationsFS embed.FS

type opKind int

const (
	opSave opKind = iota
	opLoad
)

type request struct {
	kind    opKind
	feedURL string
	posts   []domain.Post
	reply   chan result
}

type result struct {
	posts *domain.Collection
	err   error
}

// Store is the application end of the persistence worker.
type Store struct {
	mu       sync.Mutex
	closed   bool
	requests chan request
	done     chan struct{}
	err      error
	log      *slog.Logger
}

// New opens the database at dbPath, applies migrations, and starts the
// worker goroutine that owns the handle from here on. The caller passes a
// resolved path; the store never goes looking for config directories.
func New(dbPath string, log *slog.Logger) (*Store, error) {
	db, err := openDatabase(dbPath, log)
	if err != nil {
		return nil, err
	}

	s := &Store{
		requests: make(chan request, requestQueueSize),
		done:     make(chan struct{}),
		log:      log,
	}

	go s.run(db)

	return s, nil
}

func openDatabase(dbPath string, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	dbInstance, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("No migrations to apply", "dbPath", dbPath)
	} else {
		log.Info("DB is migrated", "dbPath", dbPath)
	}

	return db, nil
}

// Save upserts one record per post under feedURL and does not return until
// the batch is committed, so a crash after Save cannot lose it. Post ids
// containing the separator byte are rejected up front with ErrInvalidPostID
// and nothing is written.
func (s *Store) Save(feedURL string, posts []domain.Post) error {
	res := s.send(request{kind: opSave, feedURL: feedURL, posts: posts})
	return res.err
}

// Load returns the persisted collection for feedURL. Sort order and the
// unread count are rebuilt from scratch; nothing on disk is trusted to be
// ordered. A feed that was never saved loads as an empty collection.
func (s *Store) Load(feedURL string) (*domain.Collection, error) {
	res := s.send(request{kind: opLoad, feedURL: feedURL})
	if res.err != nil {
		return nil, res.err
	}

	return res.posts, nil
}

// Close stops the worker after it finishes the queued requests and waits
// for the database to be closed. Safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.requests)
	}
	s.mu.Unlock()

	<-s.done
}

// Done is closed when the worker has stopped, whether cleanly via Close or
// because of a fatal database error. The coordinator watches it to notice
// the persistence subsystem dying out from under it.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that stopped the worker, or nil after a
// clean Close. Only valid once Done is closed.
func (s *Store) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// send hands a request to the worker. The mutex only serializes the
// "closed yet?" check with Close; actual work still flows through the
// channel. Even after a fatal error the worker keeps answering, so the
// send below can never wedge.
func (s *Store) send(req request) result {
	req.reply = make(chan result, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return result{err: ErrStoreClosed}
	}
	s.requests <- req
	s.mu.Unlock()

	return <-req.reply
}

// run is the worker loop. Database errors are fatal: the first one is
// recorded, Done closes, and every request still queued or arriving later
// is answered with ErrStoreClosed until the channel itself is closed.
func (s *Store) run(db *sql.DB) {
	defer func() {
		if err := db.Close(); err != nil {
			s.log.Error("Failed to close DB", "error", err)
		}
	}()

	for req := range s.requests {
		res := s.handle(db, req)
		req.reply <- res

		if res.err != nil && !errors.Is(res.err, ErrInvalidPostID) {
			s.fail(res.err)
			return
		}
	}

	close(s.done)
}

// fail shuts the worker down after a fatal error, draining stragglers so no
// sender is ever left blocked on a reply.
func (s *Store) fail(err error) {
	s.log.Error("Store worker stopping", "error", err)

	s.err = err
	close(s.done)

	for req := range s.requests {
		req.reply <- result{err: ErrStoreClosed}
	}
}

func (s *Store) handle(db *sql.DB, req request) result {
	switch req.kind {
	case opSave:
		return result{err: s.save(db, req.feedURL, req.posts)}
	case opLoad:
		posts, err := s.load(db, req.feedURL)
		return result{posts: posts, err: err}
	default:
		return result{err: fmt.Errorf("unknown request kind %d", req.kind)}
	}
}

func (s *Store) save(db *sql.DB, feedURL string, posts []domain.Post) error {
	// Validate every key before touching the database so a bad id cannot
	// leave a half-written batch behind.
	keys := make([][]byte, len(posts))
	for i, p := range posts {
		key, err := encodeKey(feedURL, p.ID)
		if err != nil {
			return err
		}
		keys[i] = key
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin save batch: %w", err)
	}

	for i, p := range posts {
		_, err := tx.Exec(
			`insert into posts (key, value) values (?, ?)
			on conflict (key) do update set value = excluded.value`,
			keys[i], encodePost(p),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert post %q: %w", p.ID, err)
		}
	}

	// The commit is the flush point for the batch's durability.
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save batch: %w", err)
	}

	return nil
}

func (s *Store) load(db *sql.DB, feedURL string) (*domain.Collection, error) {
	lo, hi := keyRange(feedURL)

	rows, err := db.Query(
		"select key, value from posts where key >= ? and key < ?", lo, hi)
	if err != nil {
		return nil, fmt.Errorf("scan feed prefix: %w", err)
	}
	defer rows.Close()

	posts := domain.NewCollection()
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		id := domain.PostID(key[len(lo):])
		post, err := decodePost(value, id)
		if err != nil {
			return nil, fmt.Errorf("decode post %q: %w", id, err)
		}

		posts.Insert(post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return posts, nil
}
