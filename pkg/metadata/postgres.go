package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Queryer is the subset of pgxpool.Pool (and pgx.Tx) used for lookups.
type Queryer interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// DefaultTable has columns
//
//	nickname           text primary key
//	n_events_generated bigint
//	xsec               double precision
//	generator_weight   double precision
//	is_data            boolean
//
// Nullable columns are unknown values.
const DefaultTable = "datasets"

// PostgresLookup looks up metadata from a PostgreSQL table.
type PostgresLookup struct {
	q     Queryer
	table string
}

var _ Lookup = &PostgresLookup{}

func NewPostgresLookup(q Queryer, table string) *PostgresLookup {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresLookup{q: q, table: table}
}

// ConnectPostgres opens a connection pool to dsn.
//
// The returned func closes the pool.
func ConnectPostgres(ctx context.Context, dsn string, table string) (*PostgresLookup, func(), error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting datasets database: %w", err)
	}
	return NewPostgresLookup(pool, table), pool.Close, nil
}

type datasetRow struct {
	events pgtype.Int8
	xsec   pgtype.Float8
	weight pgtype.Float8
	isData pgtype.Bool
}

func (p *PostgresLookup) row(ctx context.Context, nick string) (datasetRow, bool, error) {
	r := datasetRow{}
	sql := fmt.Sprintf(
		`select "n_events_generated", "xsec", "generator_weight", "is_data" from %s where "nickname" = $1`,
		pgx.Identifier{p.table}.Sanitize(),
	)
	err := p.q.QueryRow(ctx, sql, nick).Scan(&r.events, &r.xsec, &r.weight, &r.isData)
	if errors.Is(err, pgx.ErrNoRows) {
		return datasetRow{}, false, nil
	}
	if pgErr := new(pgconn.PgError); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return datasetRow{}, false, fmt.Errorf("datasets table %q does not exist: %w", p.table, err)
	}
	if err != nil {
		return datasetRow{}, false, err
	}
	return r, true, nil
}

func (p *PostgresLookup) GeneratedEvents(ctx context.Context, nick string) (int64, bool, error) {
	r, ok, err := p.row(ctx, nick)
	if err != nil || !ok || r.events.Status != pgtype.Present {
		return 0, false, err
	}
	return r.events.Int, true, nil
}

func (p *PostgresLookup) CrossSection(ctx context.Context, nick string) (float64, bool, error) {
	r, ok, err := p.row(ctx, nick)
	if err != nil || !ok || r.xsec.Status != pgtype.Present {
		return 0, false, err
	}
	return r.xsec.Float, true, nil
}

func (p *PostgresLookup) GeneratorWeight(ctx context.Context, nick string) (float64, bool, error) {
	r, ok, err := p.row(ctx, nick)
	if err != nil || !ok || r.weight.Status != pgtype.Present {
		return 0, false, err
	}
	return r.weight.Float, true, nil
}

// IsData follows the is_data column; when it is null or the row is missing,
// the nickname decides.
func (p *PostgresLookup) IsData(ctx context.Context, nick string) (bool, error) {
	r, ok, err := p.row(ctx, nick)
	if err != nil {
		return false, err
	}
	if !ok || r.isData.Status != pgtype.Present {
		return IsRunPeriod(nick), nil
	}
	return r.isData.Bool, nil
}
