package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gridstone/gridstone/internal/schedule"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// schema is applied to every new connection. The project is an opaque
// identifier owned by the wider platform; this service only partitions
// by it.
const schema = `
CREATE TABLE IF NOT EXISTS schedule_items (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id              INTEGER NOT NULL,
	name                    TEXT    NOT NULL,
	duration                INTEGER NOT NULL DEFAULT 0 CHECK (duration >= 0),
	timing_mode             TEXT    NOT NULL CHECK (timing_mode IN ('fixed', 'dependent')),
	manual_start_period     INTEGER NOT NULL DEFAULT 0,
	calculated_start_period INTEGER
);

CREATE INDEX IF NOT EXISTS idx_schedule_items_project
	ON schedule_items (project_id);

CREATE TABLE IF NOT EXISTS item_dependencies (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	dependent_item_id INTEGER NOT NULL REFERENCES schedule_items (id) ON DELETE CASCADE,
	trigger_item_id   INTEGER REFERENCES schedule_items (id) ON DELETE CASCADE,
	trigger_event     TEXT    NOT NULL,
	trigger_value     REAL,
	offset_periods    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_item_dependencies_dependent
	ON item_dependencies (dependent_item_id);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file path. Required.
	Path string

	// PoolSize is the connection pool size. Defaults as in PoolConfig.
	PoolSize int

	// Logger receives operational messages. Nil means no logging.
	Logger *slog.Logger
}

// Store is the SQLite-backed schedule item and dependency store.
type Store struct {
	pool   *Pool
	logger *slog.Logger
}

// Open creates the store, opening the underlying connection pool. The
// schema is created on first use. The caller must Close the store.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := openPool(PoolConfig{Path: cfg.Path, PoolSize: cfg.PoolSize, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// CreateItem inserts a schedule item and returns its assigned id.
func (s *Store) CreateItem(ctx context.Context, item *schedule.Item) (int64, error) {
	if _, err := schedule.ParseTimingMode(string(item.TimingMode)); err != nil {
		return 0, fmt.Errorf("store: create item: %w", err)
	}
	if item.Duration < 0 {
		return 0, fmt.Errorf("store: create item: duration must not be negative")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO schedule_items (project_id, name, duration, timing_mode, manual_start_period)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{item.ProjectID, item.Name, item.Duration, string(item.TimingMode), item.ManualStartPeriod},
		})
	if err != nil {
		return 0, fmt.Errorf("store: create item: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// GetItem reads one schedule item. Returns ErrNotFound if it does not exist.
func (s *Store) GetItem(ctx context.Context, id int64) (*schedule.Item, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var item *schedule.Item
	err = sqlitex.Execute(conn,
		`SELECT id, project_id, name, duration, timing_mode, manual_start_period, calculated_start_period
		 FROM schedule_items WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				item = scanItem(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get item %d: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("store: get item %d: %w", id, ErrNotFound)
	}
	return item, nil
}

// ListItems returns all schedule items of a project, ordered by id.
func (s *Store) ListItems(ctx context.Context, projectID int64) ([]*schedule.Item, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return listItems(conn, projectID)
}

// UpdateItem rewrites an item's mutable columns (name, duration, timing
// mode, manual start). Returns ErrNotFound if the item does not exist.
func (s *Store) UpdateItem(ctx context.Context, item *schedule.Item) error {
	if _, err := schedule.ParseTimingMode(string(item.TimingMode)); err != nil {
		return fmt.Errorf("store: update item %d: %w", item.ID, err)
	}
	if item.Duration < 0 {
		return fmt.Errorf("store: update item %d: duration must not be negative", item.ID)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE schedule_items
		 SET name = ?, duration = ?, timing_mode = ?, manual_start_period = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{item.Name, item.Duration, string(item.TimingMode), item.ManualStartPeriod, item.ID},
		})
	if err != nil {
		return fmt.Errorf("store: update item %d: %w", item.ID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: update item %d: %w", item.ID, ErrNotFound)
	}
	return nil
}

// DeleteItem removes an item and, via foreign keys, every dependency edge
// touching it. Returns ErrNotFound if the item does not exist.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM schedule_items WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("store: delete item %d: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: delete item %d: %w", id, ErrNotFound)
	}
	return nil
}

// CreateDependency validates and inserts a dependency edge, returning its
// assigned id. The dependent item must exist; for non-absolute edges the
// trigger item must exist in the same project as the dependent.
func (s *Store) CreateDependency(ctx context.Context, dep *schedule.Dependency) (int64, error) {
	if err := dep.Validate(); err != nil {
		return 0, fmt.Errorf("store: create dependency: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	dependentProject, err := itemProject(conn, dep.DependentItemID)
	if err != nil {
		return 0, fmt.Errorf("store: create dependency: dependent item %d: %w", dep.DependentItemID, err)
	}
	if dep.TriggerItemID != nil {
		triggerProject, err := itemProject(conn, *dep.TriggerItemID)
		if err != nil {
			return 0, fmt.Errorf("store: create dependency: trigger item %d: %w", *dep.TriggerItemID, err)
		}
		if triggerProject != dependentProject {
			return 0, fmt.Errorf("store: create dependency: trigger item %d belongs to a different project", *dep.TriggerItemID)
		}
	}

	var triggerItem any
	if dep.TriggerItemID != nil {
		triggerItem = *dep.TriggerItemID
	}
	var triggerValue any
	if dep.TriggerValue != nil {
		triggerValue = *dep.TriggerValue
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO item_dependencies (dependent_item_id, trigger_item_id, trigger_event, trigger_value, offset_periods)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{dep.DependentItemID, triggerItem, string(dep.TriggerEvent), triggerValue, dep.OffsetPeriods},
		})
	if err != nil {
		return 0, fmt.Errorf("store: create dependency: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// ListDependencies returns every dependency edge whose dependent item
// belongs to the project, ordered by id.
func (s *Store) ListDependencies(ctx context.Context, projectID int64) ([]*schedule.Dependency, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return listDependencies(conn, projectID)
}

// DeleteDependency removes one dependency edge. Returns ErrNotFound if it
// does not exist.
func (s *Store) DeleteDependency(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM item_dependencies WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("store: delete dependency %d: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: delete dependency %d: %w", id, ErrNotFound)
	}
	return nil
}

// LoadGraph reads a project's full timeline snapshot: every schedule item
// plus every dependency edge whose dependent item belongs to the project.
// Pure read; both queries run on the same borrowed connection.
func (s *Store) LoadGraph(ctx context.Context, projectID int64) (*schedule.Graph, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	items, err := listItems(conn, projectID)
	if err != nil {
		return nil, err
	}
	deps, err := listDependencies(conn, projectID)
	if err != nil {
		return nil, err
	}
	return schedule.NewGraph(items, deps), nil
}

// ApplyResolved writes resolved start periods back as the authoritative
// start of each dependent item, inside a single immediate transaction.
// Either every update commits or none does. Fixed items are never
// touched: the WHERE clause refuses them and any refused row aborts the
// batch. Returns the number of items updated.
func (s *Store) ApplyResolved(ctx context.Context, projectID int64, periods map[int64]int) (applied int, err error) {
	if len(periods) == 0 {
		return 0, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("store: apply resolved: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	ids := make([]int64, 0, len(periods))
	for id := range periods {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		err = sqlitex.Execute(conn,
			`UPDATE schedule_items
			 SET manual_start_period = ?, calculated_start_period = ?
			 WHERE id = ? AND project_id = ? AND timing_mode = 'dependent'`,
			&sqlitex.ExecOptions{
				Args: []any{periods[id], periods[id], id, projectID},
			})
		if err != nil {
			return 0, fmt.Errorf("store: apply resolved: item %d: %w", id, err)
		}
		if conn.Changes() == 0 {
			err = fmt.Errorf("store: apply resolved: item %d is not a dependent item of project %d", id, projectID)
			return 0, err
		}
		applied++
	}

	s.logger.Info("resolved start periods applied", "project_id", projectID, "items", applied)
	return applied, nil
}

func listItems(conn *sqlite.Conn, projectID int64) ([]*schedule.Item, error) {
	var items []*schedule.Item
	err := sqlitex.Execute(conn,
		`SELECT id, project_id, name, duration, timing_mode, manual_start_period, calculated_start_period
		 FROM schedule_items WHERE project_id = ? ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: []any{projectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				items = append(items, scanItem(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list items of project %d: %w", projectID, err)
	}
	return items, nil
}

func listDependencies(conn *sqlite.Conn, projectID int64) ([]*schedule.Dependency, error) {
	var deps []*schedule.Dependency
	err := sqlitex.Execute(conn,
		`SELECT d.id, d.dependent_item_id, d.trigger_item_id, d.trigger_event, d.trigger_value, d.offset_periods
		 FROM item_dependencies d
		 JOIN schedule_items i ON i.id = d.dependent_item_id
		 WHERE i.project_id = ? ORDER BY d.id`,
		&sqlitex.ExecOptions{
			Args: []any{projectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				dep := &schedule.Dependency{
					ID:              stmt.ColumnInt64(0),
					DependentItemID: stmt.ColumnInt64(1),
					TriggerEvent:    schedule.TriggerEvent(stmt.ColumnText(3)),
					OffsetPeriods:   int(stmt.ColumnInt64(5)),
				}
				if stmt.ColumnType(2) != sqlite.TypeNull {
					triggerID := stmt.ColumnInt64(2)
					dep.TriggerItemID = &triggerID
				}
				if stmt.ColumnType(4) != sqlite.TypeNull {
					triggerValue := stmt.ColumnFloat(4)
					dep.TriggerValue = &triggerValue
				}
				deps = append(deps, dep)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list dependencies of project %d: %w", projectID, err)
	}
	return deps, nil
}

// itemProject returns the owning project of an item, or ErrNotFound.
func itemProject(conn *sqlite.Conn, id int64) (int64, error) {
	projectID := int64(-1)
	err := sqlitex.Execute(conn,
		`SELECT project_id FROM schedule_items WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				projectID = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, err
	}
	if projectID == -1 {
		return 0, ErrNotFound
	}
	return projectID, nil
}

func scanItem(stmt *sqlite.Stmt) *schedule.Item {
	item := &schedule.Item{
		ID:                stmt.ColumnInt64(0),
		ProjectID:         stmt.ColumnInt64(1),
		Name:              stmt.ColumnText(2),
		Duration:          int(stmt.ColumnInt64(3)),
		TimingMode:        schedule.TimingMode(stmt.ColumnText(4)),
		ManualStartPeriod: int(stmt.ColumnInt64(5)),
	}
	if stmt.ColumnType(6) != sqlite.TypeNull {
		calculated := int(stmt.ColumnInt64(6))
		item.CalculatedStartPeriod = &calculated
	}
	return item
}
