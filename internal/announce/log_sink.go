package announce

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes announcements as structured log lines, for displays that
// tail the service log.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{
		logger: logger.With().Str("component", "announcer").Logger(),
	}
}

func (s *LogSink) Deliver(_ context.Context, a Announcement) error {
	s.logger.Info().
		Str("announcementId", a.ID.String()).
		Str("label", a.Label).
		Int("attempt", a.Attempt).
		Str("lang", a.Lang).
		Str("text", a.Text).
		Time("at", a.At).
		Msg("announcement")

	return nil
}
