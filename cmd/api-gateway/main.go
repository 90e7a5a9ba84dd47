package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/dimasfr/bimbel-admin-api/api/swagger"
	"github.com/dimasfr/bimbel-admin-api/internal/events"
	"github.com/dimasfr/bimbel-admin-api/internal/handler"
	"github.com/dimasfr/bimbel-admin-api/internal/middleware"
	"github.com/dimasfr/bimbel-admin-api/internal/models"
	"github.com/dimasfr/bimbel-admin-api/internal/repository"
	"github.com/dimasfr/bimbel-admin-api/internal/service"
	"github.com/dimasfr/bimbel-admin-api/pkg/cache"
	"github.com/dimasfr/bimbel-admin-api/pkg/config"
	"github.com/dimasfr/bimbel-admin-api/pkg/database"
	"github.com/dimasfr/bimbel-admin-api/pkg/logger"
	corsmiddleware "github.com/dimasfr/bimbel-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/dimasfr/bimbel-admin-api/pkg/middleware/requestid"
)

// @title Bimbel Admin API
// @version 1.0.0
// @description Enrollment, billing and payment administration for a tutoring institute
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching and event publishing disabled", "error", err)
		redisClient = nil
	}

	dispatcher := events.NewDispatcher(redisClient, events.DispatcherConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		Channel:    cfg.Events.Channel,
	}, logr)
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	classRepo := repository.NewClassRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	clock := service.SystemClock()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	}, clock, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, classRepo, dispatcher, userRepo, metricsSvc, clock, validate, logr)
	scheduleSvc := service.NewBillingScheduleService(installmentRepo, enrollmentRepo, studentRepo, cacheRepo, userRepo, service.BillingScheduleDefaults{
		DueDay:           cfg.Billing.DefaultDueDay,
		InstallmentCount: cfg.Billing.DefaultInstallmentCount,
	}, validate, logr)
	installmentSvc := service.NewInstallmentService(installmentRepo, cacheRepo, dispatcher, userRepo, metricsSvc, clock, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, installmentRepo, studentRepo, cacheRepo, dispatcher, userRepo, metricsSvc, clock, validate, logr)
	statementSvc := service.NewStatementService(installmentRepo, paymentRepo, studentRepo, cacheRepo, cfg.Statements.CacheTTL, metricsSvc, clock, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, validate, logr)
	classSvc := service.NewClassService(classRepo, teacherRepo, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	billingHandler := handler.NewBillingHandler(scheduleSvc, installmentSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	statementHandler := handler.NewStatementHandler(statementSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	classHandler := handler.NewClassHandler(classSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Scrape)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff)
	admin := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	authed.GET("/auth/me", authHandler.Me)
	authed.GET("/audit", admin, authHandler.AuditTrail)

	authed.GET("/students", studentHandler.List)
	authed.GET("/students/:id", studentHandler.Get)
	authed.POST("/students", staff, studentHandler.Create)
	authed.PUT("/students/:id", staff, studentHandler.Update)
	authed.POST("/guardians", staff, studentHandler.CreateGuardian)
	authed.GET("/guardians/:id", studentHandler.GetGuardian)

	authed.GET("/teachers", teacherHandler.List)
	authed.GET("/teachers/:id", teacherHandler.Get)
	authed.POST("/teachers", admin, teacherHandler.Create)
	authed.PUT("/teachers/:id", admin, teacherHandler.Update)

	authed.GET("/classes", classHandler.List)
	authed.GET("/classes/:id", classHandler.Get)
	authed.GET("/classes/:id/roster", enrollmentHandler.Roster)
	authed.POST("/classes/:id/promote", staff, enrollmentHandler.Promote)
	authed.POST("/classes", admin, classHandler.Create)
	authed.PUT("/classes/:id", admin, classHandler.Update)
	authed.PUT("/classes/:id/active", admin, classHandler.SetActive)

	authed.GET("/enrollments", enrollmentHandler.List)
	authed.GET("/enrollments/:id", enrollmentHandler.Get)
	authed.POST("/enrollments", staff, enrollmentHandler.Create)
	authed.POST("/enrollments/:id/cancel", staff, enrollmentHandler.Cancel)
	authed.POST("/enrollments/:id/complete", staff, enrollmentHandler.Complete)
	authed.POST("/enrollments/:id/lock", admin, enrollmentHandler.Lock)
	authed.POST("/enrollments/:id/unlock", admin, enrollmentHandler.Unlock)

	authed.POST("/enrollments/:id/schedule", staff, billingHandler.GenerateSchedule)
	authed.GET("/enrollments/:id/installments", billingHandler.ListByEnrollment)
	authed.GET("/installments/:id", billingHandler.Get)
	authed.POST("/installments/:id/pay", staff, billingHandler.MarkPaid)
	authed.POST("/installments/:id/reopen", admin, billingHandler.Reopen)
	authed.GET("/payers/:id/outstanding", billingHandler.Outstanding)

	authed.GET("/payments", paymentHandler.List)
	authed.GET("/payments/:id", paymentHandler.Get)
	authed.POST("/payments", staff, paymentHandler.Create)
	authed.POST("/payments/:id/allocate", staff, paymentHandler.AllocateAutomatic)
	authed.POST("/payments/:id/allocate/manual", staff, paymentHandler.AllocateManual)
	authed.POST("/payments/:id/finalize", staff, paymentHandler.Finalize)
	authed.POST("/payments/:id/cancel", admin, paymentHandler.Cancel)

	authed.GET("/payers/:id/statement", statementHandler.Get)
	authed.GET("/payers/:id/statement/csv", statementHandler.ExportCSV)
	authed.GET("/payers/:id/statement/pdf", statementHandler.ExportPDF)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
