// Command pipelineworker is the process entrypoint: it wires the Config
// Store, Job Store, Priority Queue, Privacy Filter Client, LLM Client,
// Pipeline Executor, Worker Runtime, and Scheduled Maintenance together,
// then serves an internal operations surface (health, metrics, and a
// read-only job-status lookup). Grounded on the teacher's
// cmd/tarsy/main.go startup sequence (flag parsing, godotenv, gin mode,
// ordered service construction, minimal health route, blocking
// router.Run); this process has no upload/auth surface per §1's
// Non-goals, so the only external trigger into a job's lifecycle is
// whatever already inserted it into Postgres as PENDING/QUEUED.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/arztflow/pipeline/pkg/cleanup"
	"github.com/arztflow/pipeline/pkg/config"
	"github.com/arztflow/pipeline/pkg/executor"
	"github.com/arztflow/pipeline/pkg/jobstore"
	"github.com/arztflow/pipeline/pkg/llmclient"
	"github.com/arztflow/pipeline/pkg/privacy"
	"github.com/arztflow/pipeline/pkg/queue"
	"github.com/arztflow/pipeline/pkg/telemetry"
	"github.com/arztflow/pipeline/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to a .env file to load before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("warning: could not load %s: %v", *envFile, err)
		log.Printf("continuing with existing environment variables...")
	} else {
		log.Printf("loaded environment from %s", *envFile)
	}

	httpPort := getEnv("HTTP_PORT", "8090")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	logger := slog.Default()
	ctx := context.Background()

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		log.Fatalf("failed to load environment config: %v", err)
	}

	cipher, err := jobstore.NewCipher([]byte(envCfg.EncryptionKey))
	if err != nil {
		log.Fatalf("failed to build cipher: %v", err)
	}

	jobs, err := jobstore.NewStore(ctx, jobstore.Config{DSN: envCfg.DatabaseURL}, cipher)
	if err != nil {
		log.Fatalf("failed to open job store: %v", err)
	}
	defer jobs.Close()
	log.Println("connected to postgres job store, migrations applied")

	cfgStore := config.NewStore()
	if err := cfgStore.Load(ctx, jobs.ConfigSource()); err != nil {
		log.Fatalf("failed to load config store: %v", err)
	}
	log.Printf("config store loaded: %+v", cfgStore.Stats())

	redisOpts, err := redis.ParseURL(envCfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to parse REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}
	log.Println("connected to redis priority queue")

	q := queue.New(rdb, jobs)

	var pii privacy.Client
	if envCfg.UseExternalPII {
		pii = privacy.NewHTTPClient(envCfg.ExternalPIIURL, envCfg.ExternalPIIAPIKey, logger)
	} else {
		pii = privacy.NewLocalFilter()
	}

	llm := llmclient.NewHTTPClient(envCfg.LLMBaseURL, envCfg.LLMAccessToken, logger)

	metrics := telemetry.NewMetrics("pipeline", prometheus.DefaultRegisterer)

	exec := executor.New(llm, jobs, logger, metrics)
	runner := newJobRunner(jobs, cfgStore, pii, exec, metrics, logger)

	podID, err := os.Hostname()
	if err != nil || podID == "" {
		podID = uuid.NewString()
	}

	workerCfg := worker.DefaultConfig()
	if envCfg.WorkerConcurrency > 0 {
		workerCfg.WorkerCount = envCfg.WorkerConcurrency
	}

	pool := worker.New(podID, workerCfg, q, jobs, runner)
	pool.Start(ctx)
	defer pool.Stop()
	log.Printf("worker pool started: pod_id=%s workers=%d", podID, workerCfg.WorkerCount)

	cleanupCfg := cleanup.DefaultConfig()
	cleanupCfg.RetentionPeriod = time.Duration(envCfg.DataRetentionHours) * time.Hour
	maintenance := cleanup.NewService(cleanupCfg, jobs, q)
	maintenance.Start(ctx)
	defer maintenance.Stop()
	log.Println("maintenance sweeps started")

	go reportQueueMetrics(ctx, q, pool, metrics)

	router := gin.Default()

	router.GET("/healthz", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := jobs.Health(reqCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "component": "jobstore", "error": err.Error()})
			return
		}
		if err := rdb.Ping(reqCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "component": "queue", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"pool":   pool.Health(),
			"config": cfgStore.Stats(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The one §6.1 shape that is core job data, not upload/auth
	// plumbing — everything else in §6.1 belongs to the out-of-scope
	// HTTP surface.
	router.GET("/api/processing/:id", func(c *gin.Context) {
		job, err := jobs.GetJob(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, jobstore.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id":           job.JobID,
			"processing_id":    job.ProcessingID,
			"status":           job.Status,
			"progress_percent": job.ProgressPercent,
			"current_step":     job.CurrentStep,
			"document_class":   job.DocumentClass,
			"error_message":    job.ErrorMessage,
			"total_cost":       job.TotalCost,
			"total_tokens":     job.TotalTokens,
		})
	})

	log.Printf("pipeline worker listening on :%s", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("failed to start http server: %v", err)
	}
}

// reportQueueMetrics mirrors the Priority Queue's lane depths and the
// Worker Runtime's active-worker count into the Telemetry gauges (§4.J).
func reportQueueMetrics(ctx context.Context, q *queue.Queue, pool *worker.Pool, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depths, err := q.Depths(ctx); err == nil {
				metrics.SetQueueDepths(depths)
			}
			metrics.SetActiveWorkers(pool.Health().ActiveWorkers)
		}
	}
}
