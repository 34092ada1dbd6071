package datasource

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signalnine/nilmbench/internal/folds"
)

const defaultTable = "nilm_readings"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Postgres reads a long-format table:
//
//	dataset TEXT, building INT, device TEXT, ts TIMESTAMPTZ, mains DOUBLE PRECISION, meter DOUBLE PRECISION
type Postgres struct {
	name  string
	table string
	pool  *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg Config, dsn string) (*Postgres, error) {
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Postgres{name: cfg.Name, table: table, pool: pool}, nil
}

func (p *Postgres) Name() string { return p.name }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Load(ctx context.Context, building int, device string, r folds.DateRange, period time.Duration) ([]Reading, error) {
	from, to := r.Bounds()
	rows, err := p.pool.Query(ctx, `
		SELECT ts, mains, meter
		FROM `+p.table+`
		WHERE dataset = $1 AND building = $2 AND device = $3 AND ts >= $4 AND ts < $5
		ORDER BY ts`, p.name, building, device, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.table, err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			ts    time.Time
			mains *float64
			meter *float64
		)
		if err := rows.Scan(&ts, &mains, &meter); err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.table, err)
		}
		reading := Reading{Time: ts.UTC(), Inputs: []float64{0}}
		if mains != nil {
			reading.Inputs[0] = *mains
		}
		if meter != nil {
			reading.Meter = *meter
		}
		out = append(out, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", p.table, err)
	}
	return Resample(out, period), nil
}
