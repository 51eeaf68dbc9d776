package config

import (
	"time"

	"github.com/spf13/viper"
)

// Observes observability config struct
type Observes struct {
	Tracer *Tracer
	Sentry *Sentry
}

// Tracer exports lifecycle spans over OTLP gRPC
type Tracer struct {
	Enabled            bool
	Endpoint           string
	SamplingRate       float64
	BatchTimeout       time.Duration
	ExportTimeout      time.Duration
	MaxExportBatchSize int
}

// Sentry forwards error logs to sentry
type Sentry struct {
	DSN         string
	Environment string
}

func getObservesConfig(v *viper.Viper) *Observes {
	return &Observes{
		Tracer: &Tracer{
			Enabled:            v.GetBool("observes.tracer.enabled"),
			Endpoint:           v.GetString("observes.tracer.endpoint"),
			SamplingRate:       v.GetFloat64("observes.tracer.sampling_rate"),
			BatchTimeout:       getDurationOrDefault(v, "observes.tracer.batch_timeout", 5*time.Second),
			ExportTimeout:      getDurationOrDefault(v, "observes.tracer.export_timeout", 30*time.Second),
			MaxExportBatchSize: getIntOrDefault(v, "observes.tracer.max_export_batch_size", 512),
		},
		Sentry: &Sentry{
			DSN:         v.GetString("observes.sentry.dsn"),
			Environment: v.GetString("observes.sentry.environment"),
		},
	}
}
