package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/codecrow/codecrow-server/config"
	"github.com/codecrow/codecrow-server/internal/database"
	"github.com/codecrow/codecrow-server/internal/repository"
)

var (
	dryRun     = flag.Bool("dry-run", true, "Dry run mode, don't actually delete records")
	cleanJobs  = flag.Bool("clean-jobs", true, "Delete old terminal jobs and their logs")
	cleanLogs  = flag.Bool("clean-logs", true, "Truncate oversized job logs")
	cleanLocks = flag.Bool("clean-locks", true, "Remove stale analysis locks")
)

func main() {
	flag.Parse()

	log.Println("Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	jobRepo := repository.NewJobRepository(db)
	jobLogRepo := repository.NewJobLogRepository(db)
	lockRepo := repository.NewLockRepository(db)

	// 1. 清理过期的终态任务及其日志
	if *cleanJobs {
		retentionDays := cfg.Cleanup.JobRetentionDays
		if retentionDays <= 0 {
			retentionDays = 90
		}
		cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
		log.Printf("Cleaning terminal jobs older than %d days...", retentionDays)

		ids, err := jobRepo.ListTerminalIDsBefore(cutoff)
		if err != nil {
			log.Fatalf("Failed to list old jobs: %v", err)
		}
		log.Printf("Found %d terminal jobs to delete", len(ids))

		if !*dryRun && len(ids) > 0 {
			// 先删日志再删任务，中途失败也不会留下指向空 job 的日志
			if err := jobLogRepo.DeleteByJobIDs(ids); err != nil {
				log.Fatalf("Failed to delete job logs: %v", err)
			}
			deleted, err := jobRepo.DeleteTerminalBefore(cutoff)
			if err != nil {
				log.Fatalf("Failed to delete jobs: %v", err)
			}
			log.Printf("Deleted %d jobs with their logs", deleted)
		}
	}

	// 2. 截断超长日志
	if *cleanLogs {
		maxLogs := cfg.Cleanup.MaxLogsPerJob
		if maxLogs <= 0 {
			maxLogs = 1000
		}
		log.Printf("Truncating job logs over %d entries...", maxLogs)

		ids, err := jobLogRepo.JobIDsOverLimit(maxLogs)
		if err != nil {
			log.Fatalf("Failed to list oversized jobs: %v", err)
		}
		log.Printf("Found %d jobs with oversized logs", len(ids))

		if !*dryRun {
			var truncated int64
			for _, id := range ids {
				n, err := jobLogRepo.TruncateOldest(id, maxLogs)
				if err != nil {
					log.Printf("Failed to truncate logs for job %d: %v", id, err)
					continue
				}
				truncated += n
			}
			log.Printf("Truncated %d log entries", truncated)
		}
	}

	// 3. 清理过期锁（崩溃的 worker 留下的）
	if *cleanLocks {
		cutoff := time.Now().Add(-cfg.Lock.StaleAfter())
		log.Printf("Removing locks held since before %s...", cutoff.Format(time.RFC3339))

		if !*dryRun {
			removed, err := lockRepo.DeleteAllStale(cutoff)
			if err != nil {
				log.Fatalf("Failed to remove stale locks: %v", err)
			}
			log.Printf("Removed %d stale locks", removed)
		}
	}

	if *dryRun {
		log.Println("DRY RUN MODE - no records were deleted")
		log.Println("Run with -dry-run=false to actually delete")
	} else {
		log.Println("Cleanup completed")
	}
}
