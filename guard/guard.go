// Package guard is the enforcement decision engine. It combines one query
// text's classified statements with the current policy modes and decides,
// per violating statement, whether to allow, warn, or block, before the
// query reaches the backend.
package guard

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/notify"
	"github.com/pgstrict/pgstrict/policy"
	"github.com/pgstrict/pgstrict/telemetry"
)

// MessagePrefix tags every diagnostic emitted at the interception point.
const MessagePrefix = "pg_strict: "

// ViolationMessage is the user-visible text for one missing-filter
// statement. The format is fixed for compatibility; surfaces that need the
// interception-point form prepend MessagePrefix.
func ViolationMessage(op analyzer.Operation) string {
	return fmt.Sprintf("%s statement without WHERE clause detected. This operation would affect all rows in the table.", op)
}

// Violation is one statement's failed filter check.
type Violation struct {
	Operation analyzer.Operation
	Message   string
}

// BlockedError aborts a query whose statement violated an On-mode policy.
type BlockedError struct {
	Operation analyzer.Operation
	Message   string
}

func (e *BlockedError) Error() string { return e.Message }

// AnalysisError aborts a query that could not be parsed while either mode
// demands hard enforcement. Blocking here keeps unparseable text from
// bypassing the policy.
type AnalysisError struct {
	Cause error
}

func (e *AnalysisError) Error() string {
	return MessagePrefix + "could not analyze query, blocking to avoid policy bypass"
}

func (e *AnalysisError) Unwrap() error { return e.Cause }

// Decision is the engine's verdict for one query text. A nil Err means the
// query may proceed. Violations carries the warn-mode diagnostics produced
// along the way (also populated before an On-mode block, since earlier
// statements are judged first). Notice is set when parsing failed under a
// policy that does not demand blocking.
type Decision struct {
	Err        error
	Violations []Violation
	Notice     string
	Analyzed   bool
}

// Blocked reports whether the query must not execute.
func (d Decision) Blocked() bool { return d.Err != nil }

// Guard evaluates query texts against an injected policy store.
type Guard struct {
	store     *policy.Store
	cache     *analyzer.Cache
	dedupe    *WarnDedupe
	hub       *notify.Hub
	clientTag string
}

// New creates a guard reading modes from store and analyzing through cache.
func New(store *policy.Store, cache *analyzer.Cache) *Guard {
	return &Guard{store: store, cache: cache}
}

// WithWarnDedupe suppresses repeated warn diagnostics for query shapes the
// dedupe filter has already seen. Blocks are never suppressed.
func (g *Guard) WithWarnDedupe(d *WarnDedupe) *Guard {
	g.dedupe = d
	return g
}

// WithHub publishes every violation as a signal on hub, feeding the audit
// pipeline. Publication is non-blocking.
func (g *Guard) WithHub(h *notify.Hub) *Guard {
	g.hub = h
	return g
}

// WithClientTag labels published signals with the enforcement surface they
// came through, for sink-side filtering.
func (g *Guard) WithClientTag(tag string) *Guard {
	g.clientTag = tag
	return g
}

// Evaluate judges one query text. Both modes are read once at entry; a
// concurrent settings write lands on the next query, not mid-decision.
// When both modes are Off the text is not even parsed.
func (g *Guard) Evaluate(query string) Decision {
	updateMode, deleteMode := g.store.Modes()
	if updateMode == policy.ModeOff && deleteMode == policy.ModeOff {
		telemetry.DecisionsTotal.With("bypass").Inc()
		return Decision{}
	}

	modeFor := func(op analyzer.Operation) policy.Mode {
		if op == analyzer.OperationDelete {
			return deleteMode
		}
		return updateMode
	}

	qa, err := g.cache.Analyze(query)
	if err != nil {
		return g.parseFailureDecision(query, err, updateMode, deleteMode)
	}

	if !qa.ContainsRelevantDML() {
		telemetry.DecisionsTotal.With("allow").Inc()
		return Decision{Analyzed: true}
	}

	decision := Decision{Analyzed: true}
	for _, op := range qa.MissingFilterOperations() {
		switch modeFor(op) {
		case policy.ModeOff:
			continue

		case policy.ModeWarn:
			message := MessagePrefix + ViolationMessage(op)
			g.signal(op, policy.ModeWarn, message, query)
			if g.dedupe != nil && g.dedupe.Seen(op, query) {
				telemetry.WarnSuppressedTotal.Inc()
				continue
			}
			decision.Violations = append(decision.Violations, Violation{Operation: op, Message: message})
			telemetry.ViolationsTotal.With(op.String(), "warn").Inc()
			log.Warn().
				Str("operation", op.String()).
				Str("query", truncateSQL(query, 120)).
				Msg("Statement without WHERE clause")

		case policy.ModeOn:
			message := MessagePrefix + ViolationMessage(op)
			g.signal(op, policy.ModeOn, message, query)
			decision.Err = &BlockedError{Operation: op, Message: message}
			telemetry.ViolationsTotal.With(op.String(), "on").Inc()
			telemetry.DecisionsTotal.With("block").Inc()
			log.Error().
				Str("operation", op.String()).
				Str("query", truncateSQL(query, 120)).
				Msg("Blocking statement without WHERE clause")
			return decision
		}
	}

	if len(decision.Violations) > 0 {
		telemetry.DecisionsTotal.With("warn").Inc()
	} else {
		telemetry.DecisionsTotal.With("allow").Inc()
	}
	return decision
}

// parseFailureDecision implements the fail-closed asymmetry: with either
// mode On an unparseable query is blocked; with Warn at most, availability
// wins and the query proceeds under a diagnostic.
func (g *Guard) parseFailureDecision(query string, cause error, updateMode, deleteMode policy.Mode) Decision {
	if updateMode == policy.ModeOn || deleteMode == policy.ModeOn {
		telemetry.DecisionsTotal.With("fail_closed").Inc()
		log.Error().
			Err(cause).
			Str("query", truncateSQL(query, 120)).
			Msg("Blocking unparseable query under strict enforcement")
		return Decision{Err: &AnalysisError{Cause: cause}}
	}

	telemetry.DecisionsTotal.With("fail_open").Inc()
	log.Warn().
		Err(cause).
		Str("query", truncateSQL(query, 120)).
		Msg("Could not analyze query, enforcement may be incomplete")
	return Decision{
		Notice: MessagePrefix + "could not analyze query, WHERE clause enforcement may be incomplete",
	}
}

func (g *Guard) signal(op analyzer.Operation, mode policy.Mode, message, query string) {
	if g.hub == nil {
		return
	}
	g.hub.Publish(notify.ViolationSignal{
		Operation: op.String(),
		Mode:      mode.String(),
		Message:   message,
		Query:     query,
		Client:    g.clientTag,
	})
}

// truncateSQL returns the first n characters of sql for logging.
func truncateSQL(sql string, n int) string {
	if len(sql) <= n {
		return sql
	}
	return sql[:n] + "..."
}
