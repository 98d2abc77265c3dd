package synthesis

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/auriter/voicecore/core/synthesis"

var logger = otelslog.NewLogger(scopeName)
