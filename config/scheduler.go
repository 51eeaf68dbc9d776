package config

import (
	"time"

	"github.com/spf13/viper"
)

// Scheduler scheduler config struct
type Scheduler struct {
	MaxWorkers  int
	QueueSize   int
	TaskTimeout time.Duration
}

func getSchedulerConfig(v *viper.Viper) *Scheduler {
	return &Scheduler{
		MaxWorkers:  getIntOrDefault(v, "scheduler.max_workers", 10),
		QueueSize:   getIntOrDefault(v, "scheduler.queue_size", 1000),
		TaskTimeout: getDurationOrDefault(v, "scheduler.task_timeout", time.Minute),
	}
}
