package apiroutes

import (
	"net/http"
	"time"

	"github.com/formrelay/go-formrelay-server/api"
	restinterceptors "github.com/formrelay/go-formrelay-server/api/interceptors"
	"github.com/formrelay/go-formrelay-server/email"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/metrics"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/services"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAPIRouter creates the gin engine with recovery, request logging and CORS for cross origin form posts
func NewAPIRouter() *gin.Engine {
	if global.Conf.Mode == gin.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else if global.Conf.Mode == gin.TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	// forwarding headers are client controlled unless set by a known proxy
	if err := router.SetTrustedProxies(global.Conf.TrustedProxies); err != nil {
		panic(err)
	}
	router.Use(gin.Recovery(), restinterceptors.RequestLogMiddleware())

	corsConfig := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Requested-With"},
		ExposeHeaders: []string{api.HeaderRateLimitLimit, api.HeaderRateLimitRemaining, api.HeaderRateLimitReset, api.HeaderRetryAfter},
		MaxAge:        12 * time.Hour,
	}
	if len(global.Conf.Cors.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = global.Conf.Cors.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))
	return router
}

// ConfigRoutes wires the services and registers the REST routes
func ConfigRoutes(router *gin.Engine, repo *repository.SQLRepository, env *types.Environment, mailer email.Mailer) *gin.Engine {
	// init metrics
	if global.Conf.Prometheus.Enabled {

		metrics.InitMetrics()

		authorized := router.Group("/metrics", gin.BasicAuth(gin.Accounts{
			global.Conf.Prometheus.Username: global.Conf.Prometheus.Password,
		}))

		authorized.GET("", gin.WrapH(promhttp.Handler()))
	}

	// SERVICE definitions
	formService := services.NewFormService(repo)
	recaptchaService := services.NewRecaptchaService(global.Conf.Spam.RecaptchaSecret, global.Conf.Spam.RecaptchaVerifyURL)
	spamFilter := services.NewSpamFilterService(recaptchaService, types.DefaultSpamPolicy(), global.Conf.Spam.Blacklist)
	tokenService := services.NewVerificationTokenService(env)
	dispatcher := services.NewWebhookDeliveryService(repo, env)
	rateLimiter := services.NewRateLimitService(env, global.Conf.RateLimit.WindowSeconds)
	intakeService := services.NewIntakeService(formService, repo, repo, spamFilter, tokenService, dispatcher, mailer)

	// API definitions
	healthApi := api.NewHealthCheckAPI()
	submissionApi := api.NewSubmissionApi(intakeService, rateLimiter)
	verifyApi := api.NewVerifyApi(intakeService)

	router.GET("/health", healthApi.HealthCheck)

	router.GET("/verify/:token", metrics.MetricsMiddleware(), restinterceptors.BurstLimitMiddleware(global.Conf.RateLimit.VerifyPerSecond), verifyApi.Verify)

	// every POST is a submission, the target is the whole path
	router.POST("/*target", metrics.MetricsMiddleware(), submissionApi.Submit)

	return router
}
