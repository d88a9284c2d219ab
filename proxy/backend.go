package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	wire "github.com/jeroenrinzema/psql-wire"

	"github.com/pgstrict/pgstrict/cfg"
	"github.com/pgstrict/pgstrict/telemetry"
)

// Connect opens the backend pool described by config and verifies it with a
// ping. One pool serves every client connection; pgx handles per-query
// acquisition and reconnects.
func Connect(ctx context.Context, config cfg.BackendConfiguration) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid backend DSN: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConns)
	poolConfig.ConnConfig.ConnectTimeout = time.Duration(config.ConnectTimeoutMS) * time.Millisecond

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PoolStats adapts the backend pool for the telemetry collector.
type PoolStats struct {
	Pool *pgxpool.Pool
}

func (p PoolStats) TotalConns() int32    { return p.Pool.Stat().TotalConns() }
func (p PoolStats) AcquiredConns() int32 { return p.Pool.Stat().AcquiredConns() }
func (p PoolStats) IdleConns() int32     { return p.Pool.Stat().IdleConns() }

// execute runs query on the backend pool and streams the result rows to the
// client. Values are rendered as text; NULLs pass through untouched.
func (s *Server) execute(ctx context.Context, writer wire.DataWriter, query string) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		telemetry.BackendErrorsTotal.Inc()
		return err
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			telemetry.BackendErrorsTotal.Inc()
			return err
		}
		row := make([]any, len(values))
		for i, v := range values {
			if v == nil {
				continue
			}
			row[i] = fmt.Sprintf("%v", v)
		}
		if err := writer.Row(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		telemetry.BackendErrorsTotal.Inc()
		return err
	}

	return writer.Complete(rows.CommandTag().String())
}
