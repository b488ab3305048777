// Root composition root. Owns infrastructure (DB, Redis, broker, mail,
// job queue) and composes the IAM container.
package main

import (
	"context"
	"fmt"

	"github.com/Abraxas-365/bastion/migrations"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/eventx"
	"github.com/Abraxas-365/bastion/pkg/eventx/eventxamqp"
	"github.com/Abraxas-365/bastion/pkg/iam/iamcontainer"
	"github.com/Abraxas-365/bastion/pkg/jobx"
	"github.com/Abraxas-365/bastion/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/metricx"
	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/Abraxas-365/bastion/pkg/notifx/notifxconsole"
	"github.com/Abraxas-365/bastion/pkg/notifx/notifxses"
	"github.com/Abraxas-365/bastion/pkg/notifx/notifxsmtp"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Container holds shared infrastructure and composed module containers.
type Container struct {
	Config *config.Config

	DB      *sqlx.DB
	Redis   *redis.Client
	Metrics *metricx.Metrics
	Events  eventx.Publisher
	Mail    *notifx.Client
	Jobs    *jobx.Client

	IAM *iamcontainer.Container
}

type containerOptions struct {
	// redis is needed by the server for OAuth2 state and queued mail.
	redis   bool
	migrate bool
}

func NewContainer(ctx context.Context, cfg *config.Config, opts containerOptions) (*Container, error) {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}
	if err := c.initInfrastructure(ctx, opts); err != nil {
		c.Cleanup()
		return nil, err
	}
	if err := c.initModules(); err != nil {
		c.Cleanup()
		return nil, err
	}

	logx.Info("✅ Application container initialized")
	return c, nil
}

// ---------------------------------------------------------------------------
// Infrastructure
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure(ctx context.Context, opts containerOptions) error {
	logx.Info("🏗️ Initializing infrastructure...")

	// 1. Database
	db, err := sqlx.ConnectContext(ctx, "postgres", c.Config.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("  ✅ Database connected")

	if opts.migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			return err
		}
	}

	// 2. Redis
	if opts.redis {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if _, err := c.Redis.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", c.Config.Redis.Address(), err)
		}
		logx.Info("  ✅ Redis connected")
	}

	// 3. Metrics and security events
	c.Metrics = metricx.New(c.Config.Metrics.Namespace)
	if url := c.Config.Events.AMQPURL; url != "" {
		pub, err := eventxamqp.NewPublisher(url, c.Config.Events.Exchange)
		if err != nil {
			return err
		}
		c.Events = pub
		logx.Infof("  ✅ Security events published to exchange %s", c.Config.Events.Exchange)
	} else {
		c.Events = eventx.NewLogPublisher()
	}

	// 4. Mail
	if err := c.initMail(ctx); err != nil {
		return err
	}

	// 5. Job queue
	if c.Config.Mail.Delivery == "queue" && c.Redis != nil {
		jc := c.Config.Jobx
		c.Jobs = jobx.NewClient(jobxredis.NewRedisQueue(c.Redis, jc.KeyPrefix),
			jobx.WithQueues(jc.Queues...),
			jobx.WithConcurrency(jc.Concurrency),
			jobx.WithPollInterval(jc.PollInterval),
			jobx.WithShutdownTimeout(jc.ShutdownTimeout),
			jobx.WithDequeueTimeout(jc.DequeueTimeout),
			jobx.WithDefaultRetryDelay(jc.DefaultRetryDelay),
			jobx.WithObserver(c.Metrics.ObserveJob),
		)
		logx.Info("  ✅ Job queue configured")
	}

	logx.Info("✅ Infrastructure initialized")
	return nil
}

func (c *Container) initMail(ctx context.Context) error {
	n := c.Config.Notifx
	var provider notifx.EmailSender
	switch n.Provider {
	case "ses":
		ses, err := notifxses.NewFromRegion(ctx, n.AWSRegion)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		provider = ses
		logx.Infof("  ✅ Mail via SES (region: %s)", n.AWSRegion)
	case "smtp":
		smtp, err := notifxsmtp.NewSMTPProvider(notifxsmtp.Config{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			TLS:      n.SMTP.TLS,
		})
		if err != nil {
			return fmt.Errorf("configure smtp: %w", err)
		}
		provider = smtp
		logx.Infof("  ✅ Mail via SMTP (%s:%d)", n.SMTP.Host, n.SMTP.Port)
	default:
		provider = notifxconsole.NewConsoleProvider()
		logx.Warn("  ⚠️  Mail is printed to the log (NOTIFX_PROVIDER=console)")
	}
	c.Mail = notifx.NewClient(provider, n.From())
	return nil
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func (c *Container) initModules() error {
	logx.Info("📦 Initializing modules...")
	iam, err := iamcontainer.New(iamcontainer.Deps{
		DB:      c.DB,
		Redis:   c.Redis,
		Cfg:     c.Config,
		Metrics: c.Metrics,
		Events:  c.Events,
		Mail:    c.Mail,
		Jobs:    c.Jobs,
	})
	if err != nil {
		return err
	}
	c.IAM = iam
	return nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (c *Container) StartBackgroundServices(ctx context.Context) {
	logx.Info("🔄 Starting background services...")
	c.IAM.StartBackgroundServices(ctx)
	if c.Jobs != nil {
		go func() {
			if err := c.Jobs.Start(ctx); err != nil {
				logx.WithError(err).Error("job worker stopped")
			}
		}()
		logx.Info("  ✅ Job workers started")
	}
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			logx.Errorf("Error closing event publisher: %v", err)
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}
