package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

var (
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portrait_tasks_processed_total",
		Help: "Queue tasks handled by the task processor",
	}, []string{"queue", "outcome"})

	TasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portrait_tasks_running",
		Help: "Tasks currently being processed",
	})

	TrainingPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portrait_training_polls_total",
		Help: "Status checks made against running trainings",
	})

	TrainingsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portrait_trainings_finished_total",
		Help: "Training sessions moved to a terminal state by the processor",
	}, []string{"status"})

	GenerationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portrait_generations_finished_total",
		Help: "Generations moved to a terminal state",
	}, []string{"status"})

	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portrait_sessions_reaped_total",
		Help: "Stale training sessions failed by the reaper",
	})

	Stylizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portrait_stylizations_total",
		Help: "Stylize requests by style and outcome",
	}, []string{"style", "outcome"})
)
