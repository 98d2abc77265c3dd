package transcription

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/auriter/voicecore/core/transcription"

var logger = otelslog.NewLogger(scopeName)
