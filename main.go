package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/formrelay/go-formrelay-server/apiroutes"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/queue"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/services"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis_rate/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// rate windows, verification tokens and the burst limiter share one database (disjoint key prefixes)
func initRedis(conf global.Config) *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Host + ":" + strconv.Itoa(conf.Redis.Port),
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       1,
	})

	rCtx, rCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer rCancel()
	if err := redisClient.Ping(rCtx).Err(); err != nil {
		level.Error(global.Logger).Log("msg", "redis is not reachable", "err", err)
		panic(err)
	}

	global.RateLimiter = redis_rate.NewLimiter(redisClient)
	return redisClient
}

// retry delay of tasks failing on infrastructure errors (database, queue).
// Webhook receiver failures are rescheduled by the queue handler itself.
func asyncRetryDelayFunc(attempt int, err error, t *asynq.Task) time.Duration {
	baseDelay := time.Duration(global.Conf.Webhook.BaseDelaySeconds) * time.Second
	maxDelay := 10 * time.Minute

	delay := queue.BackoffDelay(baseDelay, attempt+1)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// initalizes the async queue
func initAsyncQueue(repo *repository.SQLRepository, dispatcher *services.WebhookDeliveryService) (*asynq.Server, *asynq.Client) {
	queueRedisClient := asynq.RedisClientOpt{
		Addr:     global.Conf.Redis.Host + ":" + strconv.Itoa(global.Conf.Redis.Port),
		Username: global.Conf.Redis.Username,
		Password: global.Conf.Redis.Password,
		DB:       2,
	}

	logLevel := asynq.InfoLevel
	if global.Conf.Mode != "debug" {
		logLevel = asynq.WarnLevel
	}

	taskClient := asynq.NewClient(queueRedisClient)
	// start a task queue server
	taskServer := asynq.NewServer(
		queueRedisClient,
		asynq.Config{
			Concurrency:    global.Conf.Queue.Concurrency,
			LogLevel:       logLevel,
			Queues:         map[string]int{types.QueueWebhooks: 1},
			RetryDelayFunc: asyncRetryDelayFunc, // overriding the default retry delay function
		},
	)

	webhookQueue := queue.NewWebhookQueue(dispatcher, repo)
	mux := asynq.NewServeMux()
	mux.HandleFunc(types.QueueTypeWebhookDeliver, webhookQueue.ProcessWebhookTask)

	if err := taskServer.Start(mux); err != nil {
		level.Error(global.Logger).Log("msg", "could not start task server", "err", err)
		panic(err)
	}
	return taskServer, taskClient
}

func main() {
	var (
		configFile string
	)
	// configuration file optional path. Default:  current dir with  filename conf.yaml
	flag.StringVar(&configFile, "c", "conf.yaml", "Configuration file path.")
	flag.StringVar(&configFile, "config", "conf.yaml", "Configuration file path.")
	flag.Usage = usage
	flag.Parse()

	// loading configuration file
	if err := global.LoadConfig(configFile, &global.Conf); err != nil {
		level.Error(global.Logger).Log("msg", "conf.yaml failed to load", "err", err)
		panic("Failed to load conf.yaml")
	}
	if global.Conf.Webhook.SigningSecret == "" {
		level.Warn(global.Logger).Log("msg", "webhook signing secret is empty, receivers can't authenticate deliveries")
	}

	redisClient := initRedis(global.Conf)
	defer redisClient.Close()

	env := types.NewEnvironment(redisClient)
	defer env.Cron.Stop()

	repo := ConfigDatabase(&global.Conf)
	defer repo.Close()

	mailer := RegisterMailers(&global.Conf)

	dispatcher := services.NewWebhookDeliveryService(repo, env)

	// initialize the async queue
	taskServer, taskClient := initAsyncQueue(repo, dispatcher)
	defer taskClient.Close()
	env.TaskClient = taskClient

	ConfigStalledDeliverySweeper(dispatcher, env)

	// configure routes
	router := apiroutes.NewAPIRouter()
	router = apiroutes.ConfigRoutes(router, repo, env, mailer)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", global.Conf.Host, global.Conf.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// server wait to shutdown monitoring channels
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		level.Info(global.Logger).Log("msg", "shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			level.Error(global.Logger).Log("msg", "server shutdown failed", "err", err)
		}
		// stop pulling new tasks, wait for the active ones
		taskServer.Shutdown()
		close(done)
	}()

	level.Info(global.Logger).Log("msg", "server is ready to handle requests", "port", global.Conf.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Sprintf("%v\n", err))
	}

	<-done
}

// usage will print out the flag options for the server.
func usage() {
	usageStr := `Usage: formrelay [options]
	Server Options:
	-c, --config <file>              Configuration file path
`
	fmt.Printf("%s\n", usageStr)
	os.Exit(0)
}
