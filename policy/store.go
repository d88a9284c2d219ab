package policy

import (
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/telemetry"
)

// Store holds the per-operation enforcement modes. It is shared by every
// connection; reads are lock-free and atomic per value. The two modes are
// independent and are never updated as a pair.
type Store struct {
	modes   *xsync.MapOf[analyzer.Operation, Mode]
	journal *Committer
}

// NewStore creates a store with both modes Off.
func NewStore() *Store {
	s := &Store{modes: xsync.NewMapOf[analyzer.Operation, Mode]()}
	s.modes.Store(analyzer.OperationUpdate, ModeOff)
	s.modes.Store(analyzer.OperationDelete, ModeOff)
	return s
}

// WithJournal attaches a started mode journal and restores any previously
// journaled modes. Restore failures keep the in-memory defaults; a broken
// journal must not block startup.
func (s *Store) WithJournal(journal *Committer) *Store {
	restored, err := journal.Restore()
	if err != nil {
		log.Warn().Err(err).Msg("Could not restore journaled strict modes, starting from defaults")
	} else {
		for setting, mode := range restored {
			op, ok := OperationForSetting(setting)
			if !ok {
				continue
			}
			s.modes.Store(op, mode)
			publishModeMetric(op, mode)
		}
	}

	s.journal = journal
	return s
}

// Get returns the current mode for op.
func (s *Store) Get(op analyzer.Operation) Mode {
	mode, ok := s.modes.Load(op)
	if !ok {
		return ModeOff
	}
	return mode
}

// Modes returns both current modes in one call, read independently.
func (s *Store) Modes() (update, delete Mode) {
	return s.Get(analyzer.OperationUpdate), s.Get(analyzer.OperationDelete)
}

// Set applies mode to op and journals the write when a journal is attached.
// Journal flushes are asynchronous; the in-memory mode is visible to readers
// immediately.
func (s *Store) Set(op analyzer.Operation, mode Mode) {
	s.modes.Store(op, mode)
	publishModeMetric(op, mode)

	log.Info().
		Str("setting", SettingFor(op)).
		Str("mode", mode.String()).
		Msg("Strict mode changed")

	if s.journal != nil {
		s.journal.Enqueue(SettingFor(op), mode)
	}
}

// SetToken validates a settings token and applies it to op. Invalid tokens
// leave the mode unchanged and report false; the caller surfaces
// InvalidModeMessage to whoever issued the write.
func (s *Store) SetToken(op analyzer.Operation, token string) bool {
	mode, ok := ParseMode(token)
	if !ok {
		log.Warn().
			Str("setting", SettingFor(op)).
			Str("token", token).
			Msg("Rejecting invalid strict mode token")
		return false
	}

	s.Set(op, mode)
	return true
}

func publishModeMetric(op analyzer.Operation, mode Mode) {
	telemetry.StrictModeValue.With(ShortSettingFor(op)).Set(float64(mode))
}
