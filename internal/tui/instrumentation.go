package tui

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/auriter/voicecore/internal/tui"

var logger = otelslog.NewLogger(scopeName)
