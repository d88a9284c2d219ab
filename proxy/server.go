// Package proxy is the PostgreSQL-facing front end. It terminates the wire
// protocol, answers the pg_strict settings and function surface locally,
// and sends everything else through the interceptor chain into the backend
// pool.
package proxy

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	wire "github.com/jeroenrinzema/psql-wire"
	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/guard"
	"github.com/pgstrict/pgstrict/inspect"
	"github.com/pgstrict/pgstrict/policy"
	"github.com/pgstrict/pgstrict/telemetry"
)

// Server fronts the backend with enforcement applied per query.
type Server struct {
	listen    string
	pool      *pgxpool.Pool
	chain     *guard.Chain
	store     *policy.Store
	inspector *inspect.Inspector
}

// NewServer creates a proxy listening on listen. Forwarded queries execute
// on pool after clearing chain; settings commands write to store and the
// function surface is answered by inspector.
func NewServer(listen string, pool *pgxpool.Pool, chain *guard.Chain, store *policy.Store, inspector *inspect.Inspector) *Server {
	return &Server{
		listen:    listen,
		pool:      pool,
		chain:     chain,
		store:     store,
		inspector: inspector,
	}
}

// ListenAndServe accepts PostgreSQL clients until the listener fails.
func (s *Server) ListenAndServe() error {
	log.Info().Str("address", s.listen).Msg("PostgreSQL proxy listening")
	return wire.ListenAndServe(s.listen, s.handleQuery)
}

// handleQuery classifies one inbound query text. Settings commands and
// pg_strict_*() calls never reach the backend.
func (s *Server) handleQuery(ctx context.Context, query string) (wire.PreparedStatements, error) {
	log.Debug().Str("query", query).Msg("Query received")

	if stmt, ok := s.localStatement(query); ok {
		return stmt, nil
	}
	return s.forwardStatement(query), nil
}

// forwardStatement runs query through the interceptor chain into the
// backend. A blocking interceptor aborts before the backend sees the text
// and the client gets the block message as the query error.
func (s *Server) forwardStatement(query string) wire.PreparedStatements {
	handle := instrument("forwarded", func(ctx context.Context, writer wire.DataWriter, _ []wire.Parameter) error {
		return s.chain.Run(ctx, query, func(ctx context.Context, sql string) error {
			return s.execute(ctx, writer, sql)
		})
	})
	return wire.Prepared(wire.NewStatement(handle))
}

// statementFn matches the execute callback psql-wire runs for a portal.
type statementFn = func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error

// instrument wraps a statement callback with query accounting for kind.
func instrument(kind string, handle statementFn) statementFn {
	return func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
		start := time.Now()
		telemetry.QueriesInFlight.Inc()
		err := handle(ctx, writer, parameters)
		telemetry.QueriesInFlight.Dec()
		telemetry.QueryDurationSeconds.With(kind).Observe(time.Since(start).Seconds())

		result := "success"
		if err != nil {
			result = "error"
		}
		telemetry.QueriesTotal.With(kind, result).Inc()
		return err
	}
}
