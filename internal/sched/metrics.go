package sched

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type schedMetrics struct {
	gamesActive    metric.Int64UpDownCounter
	seatsReserved  metric.Int64UpDownCounter
	gamesStarted   metric.Int64Counter
	gamesFinished  metric.Int64Counter
	accepts        metric.Int64Counter
	creations      metric.Int64Counter
	matchmaking    metric.Int64Counter
	seatViolations metric.Int64Counter
}

func newSchedMetrics(logger pslog.Logger) *schedMetrics {
	meter := otel.Meter("pkt.systems/seatd/sched")
	m := &schedMetrics{}
	var err error

	m.gamesActive, err = meter.Int64UpDownCounter(
		"seatd.sched.games.active",
		metric.WithDescription("Currently running game sessions"),
	)
	logMetricInitError(logger, "seatd.sched.games.active", err)

	m.seatsReserved, err = meter.Int64UpDownCounter(
		"seatd.sched.seats.reserved",
		metric.WithDescription("Seats reserved for accepted-but-unstarted sessions"),
	)
	logMetricInitError(logger, "seatd.sched.seats.reserved", err)

	m.gamesStarted, err = meter.Int64Counter(
		"seatd.sched.games.started",
		metric.WithDescription("Game start notifications processed"),
	)
	logMetricInitError(logger, "seatd.sched.games.started", err)

	m.gamesFinished, err = meter.Int64Counter(
		"seatd.sched.games.finished",
		metric.WithDescription("Game finish notifications processed"),
	)
	logMetricInitError(logger, "seatd.sched.games.finished", err)

	m.accepts, err = meter.Int64Counter(
		"seatd.sched.challenge.accepts",
		metric.WithDescription("Inbound challenge accept attempts"),
	)
	logMetricInitError(logger, "seatd.sched.challenge.accepts", err)

	m.creations, err = meter.Int64Counter(
		"seatd.sched.challenge.creations",
		metric.WithDescription("Outbound challenge creation attempts"),
	)
	logMetricInitError(logger, "seatd.sched.challenge.creations", err)

	m.matchmaking, err = meter.Int64Counter(
		"seatd.sched.matchmaking.attempts",
		metric.WithDescription("Proactive matchmaking attempts"),
	)
	logMetricInitError(logger, "seatd.sched.matchmaking.attempts", err)

	m.seatViolations, err = meter.Int64Counter(
		"seatd.sched.seat.violations",
		metric.WithDescription("Start notifications that arrived with no free seat"),
	)
	logMetricInitError(logger, "seatd.sched.seat.violations", err)

	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("seatd.metrics.init_failed", "metric", name, "error", err)
}

func resultAttr(ok bool) metric.AddOption {
	result := "failure"
	if ok {
		result = "success"
	}
	return metric.WithAttributes(attribute.String("result", result))
}

func (m *schedMetrics) addGameActive(delta int64) {
	if m == nil || m.gamesActive == nil {
		return
	}
	m.gamesActive.Add(context.Background(), delta)
}

func (m *schedMetrics) addReserved(delta int64) {
	if m == nil || m.seatsReserved == nil {
		return
	}
	m.seatsReserved.Add(context.Background(), delta)
}

func (m *schedMetrics) recordStarted() {
	if m == nil || m.gamesStarted == nil {
		return
	}
	m.gamesStarted.Add(context.Background(), 1)
}

func (m *schedMetrics) recordFinished() {
	if m == nil || m.gamesFinished == nil {
		return
	}
	m.gamesFinished.Add(context.Background(), 1)
}

func (m *schedMetrics) recordAccept(ok bool) {
	if m == nil || m.accepts == nil {
		return
	}
	m.accepts.Add(context.Background(), 1, resultAttr(ok))
}

func (m *schedMetrics) recordCreation(ok bool) {
	if m == nil || m.creations == nil {
		return
	}
	m.creations.Add(context.Background(), 1, resultAttr(ok))
}

func (m *schedMetrics) recordMatchmaking(ok bool) {
	if m == nil || m.matchmaking == nil {
		return
	}
	m.matchmaking.Add(context.Background(), 1, resultAttr(ok))
}

func (m *schedMetrics) recordSeatViolation() {
	if m == nil || m.seatViolations == nil {
		return
	}
	m.seatViolations.Add(context.Background(), 1)
}
