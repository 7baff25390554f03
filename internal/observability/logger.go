package observability

import (
	"github.com/danmuck/companion/internal/logging"
	"github.com/rs/zerolog"
)

// InitLogger configures the runtime log profile and returns the logger for
// app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	return logging.New(app)
}
