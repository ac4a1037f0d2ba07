package workers

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"dk-leaderboard-api/services"
	"dk-leaderboard-api/utils"

	"github.com/go-co-op/gocron/v2"
)

const defaultSnapshotIntervalMin = 60

// StartSnapshotScheduler periodically exports the top-100 k/d leaderboard to
// R2 as a timestamped JSON object. Returns the running scheduler so main can
// shut it down with the app; nil when R2 is not configured.
func StartSnapshotScheduler(leaderboardService *services.LeaderboardService) gocron.Scheduler {
	if !utils.R2Enabled() {
		log.Println("➡️ R2 not configured, leaderboard snapshot export disabled")
		return nil
	}

	interval := defaultSnapshotIntervalMin
	if raw := os.Getenv("SNAPSHOT_INTERVAL_MIN"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			interval = n
		}
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("❌ Failed to create snapshot scheduler: %v", err)
		return nil
	}
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(time.Duration(interval)*time.Minute),
		gocron.NewTask(func() {
			stats, err := leaderboardService.Snapshot(100)
			if err != nil {
				log.Printf("[Snapshot] DB error: %v", err)
				return
			}

			now := time.Now().UTC()
			payload, err := json.Marshal(map[string]interface{}{
				"generated_at": now.Format(time.RFC3339),
				"leaderboard":  stats,
			})
			if err != nil {
				log.Printf("[Snapshot] Failed to marshal leaderboard: %v", err)
				return
			}

			key := fmt.Sprintf("snapshots/leaderboard-%s.json", now.Format("20060102-150405"))
			url, err := utils.UploadJSONToR2(key, payload)
			if err != nil {
				log.Printf("[Snapshot] Upload failed: %v", err)
				return
			}
			log.Printf("✅ Leaderboard snapshot exported: %s", url)
		}),
	)

	log.Printf("✅ Leaderboard snapshot export running (every %dm)", interval)
	return sched
}
