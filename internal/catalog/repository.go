package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mxschmitt/pg-catalog/internal/database"
	"go.uber.org/zap"
)

const (
	selectColumns = "id, titulo, autor, ano, genero, detalhes"

	insertSQL  = "INSERT INTO items (titulo, autor, ano, genero, detalhes) VALUES ($1, $2, $3, $4, $5)"
	createSQL  = insertSQL + " RETURNING id"
	listSQL    = "SELECT " + selectColumns + " FROM items ORDER BY id"
	searchSQL  = "SELECT " + selectColumns + " FROM items WHERE LOWER(titulo) LIKE $1 OR LOWER(autor) LIKE $1 ORDER BY id"
	getByIDSQL = "SELECT " + selectColumns + " FROM items WHERE id = $1"
	deleteSQL  = "DELETE FROM items WHERE id = $1"
)

// conn is the part of *pgx.Conn the repository needs.
type conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

type dialer func(ctx context.Context, dsn string) (conn, error)

func pgxDial(ctx context.Context, dsn string) (conn, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Repository stores items in the items table. Every call opens its own
// connection, runs a single statement and closes the connection before returning.
type Repository struct {
	db      *database.Database
	timeout time.Duration
	logger  *zap.Logger
	dial    dialer
}

func NewRepository(db *database.Database, timeout time.Duration, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		db:      db,
		timeout: timeout,
		logger:  logger,
		dial:    pgxDial,
	}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Repository) connect(ctx context.Context, op string) (conn, error) {
	dsn := r.db.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("%s: %w", op, database.ErrNotConfigured)
	}

	c, err := r.dial(ctx, dsn)
	if err != nil {
		return nil, storageError(op, fmt.Errorf("connect: %w", err))
	}
	return c, nil
}

func (r *Repository) release(c conn, op string) {
	if err := c.Close(context.Background()); err != nil {
		r.logger.Warn("Failed to close database connection", zap.String("op", op), zap.Error(err))
	}
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: goerrors.Wrap(err, 1)}
}

// Insert stores a new item. The assigned id is not read back.
func (r *Repository) Insert(ctx context.Context, item Item) error {
	const op = "insert"
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	c, err := r.connect(ctx, op)
	if err != nil {
		return err
	}
	defer r.release(c, op)

	if _, err := c.Exec(ctx, insertSQL, item.Title, item.Author, item.Year, item.Genre, item.Details); err != nil {
		return storageError(op, err)
	}

	r.logger.Debug("Inserted item", zap.String("title", item.Title))
	return nil
}

// Create stores a new item and returns it with the id assigned by the database.
func (r *Repository) Create(ctx context.Context, item Item) (Item, error) {
	const op = "create"
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	c, err := r.connect(ctx, op)
	if err != nil {
		return Item{}, err
	}
	defer r.release(c, op)

	if err := c.QueryRow(ctx, createSQL, item.Title, item.Author, item.Year, item.Genre, item.Details).Scan(&item.ID); err != nil {
		return Item{}, storageError(op, err)
	}

	r.logger.Debug("Created item", zap.Int("id", item.ID))
	return item, nil
}

// ListAll returns every item in ascending id order.
func (r *Repository) ListAll(ctx context.Context) ([]Item, error) {
	return r.queryItems(ctx, "list", listSQL)
}

// Search returns the items whose title or author contains term, ignoring case.
// An empty term matches every item.
func (r *Repository) Search(ctx context.Context, term string) ([]Item, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	return r.queryItems(ctx, "search", searchSQL, pattern)
}

func (r *Repository) queryItems(ctx context.Context, op, sql string, args ...any) ([]Item, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	c, err := r.connect(ctx, op)
	if err != nil {
		return nil, err
	}
	defer r.release(c, op)

	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}

	r.logger.Debug("Queried items", zap.String("op", op), zap.Int("count", len(items)))
	return items, nil
}

// GetByID returns the item with the given id. The boolean is false when no such
// item exists; that is not an error.
func (r *Repository) GetByID(ctx context.Context, id int) (Item, bool, error) {
	const op = "get"
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	c, err := r.connect(ctx, op)
	if err != nil {
		return Item{}, false, err
	}
	defer r.release(c, op)

	item, err := scanItem(c.QueryRow(ctx, getByIDSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, false, nil
		}
		return Item{}, false, storageError(op, err)
	}
	return item, true, nil
}

// Update overwrites the supplied fields of one item. It fails with ErrNoFields,
// without touching the database, when nothing effective was supplied. An id that
// matches no row is not reported.
func (r *Repository) Update(ctx context.Context, id int, upd ItemUpdate) error {
	const op = "update"
	assignments := upd.assignments()
	if len(assignments) == 0 {
		return ErrNoFields
	}

	sets := make([]string, 0, len(assignments))
	args := make([]any, 0, len(assignments)+1)
	for i, a := range assignments {
		sets = append(sets, fmt.Sprintf("%s = $%d", a.column, i+1))
		args = append(args, a.value)
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE items SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	c, err := r.connect(ctx, op)
	if err != nil {
		return err
	}
	defer r.release(c, op)

	tag, err := c.Exec(ctx, sql, args...)
	if err != nil {
		return storageError(op, err)
	}

	r.logger.Debug("Updated item", zap.Int("id", id), zap.Int64("rows", tag.RowsAffected()))
	return nil
}

// Delete removes one item. An id that matches no row is not reported.
func (r *Repository) Delete(ctx context.Context, id int) error {
	const op = "delete"
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	c, err := r.connect(ctx, op)
	if err != nil {
		return err
	}
	defer r.release(c, op)

	tag, err := c.Exec(ctx, deleteSQL, id)
	if err != nil {
		return storageError(op, err)
	}

	r.logger.Debug("Deleted item", zap.Int("id", id), zap.Int64("rows", tag.RowsAffected()))
	return nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Title, &item.Author, &item.Year, &item.Genre, &item.Details)
	return item, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes LIKE wildcards in a search term match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
