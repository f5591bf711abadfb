// workers/scheduler.go
package workers

import (
	"context"
	"log"
	"time"

	"geostats-pipeline/services"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartSyncScheduler runs the pipeline on a fixed interval and a
// low-frequency re-enrichment pass over locations that degraded to
// coordinate-only rows. Overlapping runs are prevented so a slow backfill
// never races a fresh sync.
func StartSyncScheduler(worker *PipelineWorker, geocoder *services.GeocodeService, db *gorm.DB, syncInterval time.Duration) gocron.Scheduler {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(syncInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), syncInterval)
			defer cancel()
			if _, err := worker.Run(ctx); err != nil {
				log.Printf("[SCHEDULER] ❌ Pipeline run failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)

	// Every 6 hours: retry locations the geocoder could not resolve earlier
	_, _ = sched.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if _, err := geocoder.EnrichMissing(ctx, db, 200); err != nil {
				log.Printf("[SCHEDULER] ❌ Enrichment pass failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)

	return sched
}
