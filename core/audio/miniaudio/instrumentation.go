package miniaudio

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/auriter/voicecore/core/audio/miniaudio"

var logger = otelslog.NewLogger(scopeName)
