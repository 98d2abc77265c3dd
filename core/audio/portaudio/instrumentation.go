package portaudio

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/auriter/voicecore/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)
