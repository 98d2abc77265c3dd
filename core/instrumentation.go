package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/auriter/voicecore/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	turnsCompleted, _ = meter.Int64Counter("voicecore.turns.completed",
		metric.WithDescription("Utterances answered by the chat endpoint"))
	utterancesDropped, _ = meter.Int64Counter("voicecore.utterances.dropped",
		metric.WithDescription("Utterances dropped because a request was already in flight"))
	playbackFailures, _ = meter.Int64Counter("voicecore.playback.failures",
		metric.WithDescription("Audio frames skipped after a playback error"))
	staleResults, _ = meter.Int64Counter("voicecore.results.stale",
		metric.WithDescription("Chat replies discarded because their session had ended"))
)
