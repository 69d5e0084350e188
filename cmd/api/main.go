package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/blob"
	"campusattend/internal/cloudinary"
	"campusattend/internal/config"
	"campusattend/internal/enrollment"
	"campusattend/internal/face"
	"campusattend/internal/faceclient"
	"campusattend/internal/geofence"
	"campusattend/internal/handler"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/queue"
	"campusattend/internal/stats"
	"campusattend/internal/store"
	"campusattend/internal/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	loc := cfg.Location()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	} else if err := store.Migrate(ctx, db.Client); err != nil {
		log.Printf("warning: migrate: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	zones, err := geofence.LoadRegistry(cfg.CampusZonesFile)
	if err != nil {
		return err
	}
	if len(zones.Zones()) == 0 {
		log.Println("no campus zones configured, only registered locations will verify")
	}

	fc := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	faces := face.NewEvaluator(fc, cfg.FaceMatchThreshold)
	loadCtx, cancelLoad := context.WithTimeout(ctx, 10*time.Second)
	if err := faces.Load(loadCtx); err != nil {
		log.Printf("WARNING: face model not ready: %v (POST /v1/admin/face/reload to retry)", err)
	} else {
		log.Printf("face model ready (threshold %.2f, skip=%v)", faces.Threshold(), cfg.FaceSkip)
	}
	cancelLoad()

	var blobs verification.BlobStore
	if cfg.CloudinaryEnabled() {
		blobs = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		blobs = blob.NewMemory()
		log.Println("Cloudinary not configured, captured frames stay in memory")
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	repo := attendance.NewPostgresRepository(db.Client, loc)
	marker := attendance.NewMarker(repo, q, loc)
	enroll := enrollment.NewPostgresStore(db.Client)
	sessions := verification.NewRedisStore(redisClient.Client, "", cfg.SessionTTL)
	verify := verification.NewService(sessions, zones, faces, enroll, blobs, marker, verification.Options{
		MaxAge:          cfg.SessionMaxAge,
		LocationTimeout: cfg.LocationTimeout,
		Location:        loc,
	})
	statsSvc := stats.NewService(repo, stats.NewRedisCache(redisClient.Client, "", cfg.StatsCacheTTL))

	// With the in-memory queue the worker cannot see events, so invalidate here.
	if cfg.QueueBackend == "memory" {
		msgs, err := q.Consume(ctx)
		if err != nil {
			return err
		}
		go statsSvc.Run(ctx, msgs)
	}

	h := handler.New(handler.Deps{
		Verify:  verify,
		Marker:  marker,
		Records: repo,
		Stats:   statsSvc,
		Enroll:  enroll,
		Faces:   faces,
		Blobs:   blobs,
		Zones:   zones,
		Checks: map[string]handler.Check{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	h.Routes(r, auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
