package main

import (
	"fmt"

	"github.com/formrelay/go-formrelay-server/email"
	"github.com/formrelay/go-formrelay-server/global"
	"github.com/formrelay/go-formrelay-server/repository"
	"github.com/formrelay/go-formrelay-server/services"
	"github.com/formrelay/go-formrelay-server/types"
	"github.com/go-kit/log/level"
)

// Register the configured mail providers and return the active one
func RegisterMailers(conf *global.Config) email.Mailer {
	email.RegisterMailer("log", email.NewLogMailer())
	if conf.Mail.Mailgun.Domain != "" && conf.Mail.Mailgun.ApiKey != "" {
		email.RegisterMailer("mailgun", email.NewMailgunMailer(conf.Mail.Mailgun, conf.Mail.From))
	}
	if conf.Mail.Smtp.Host != "" {
		email.RegisterMailer("smtp", email.NewSmtpMailer(conf.Mail.Smtp, conf.Mail.From))
	}

	mailer := email.GetMailer(conf.Mail.Provider)
	if mailer == nil {
		panic(fmt.Sprintf("mail provider %q is not configured (registered: %v)", conf.Mail.Provider, email.Mailers()))
	}
	level.Info(global.Logger).Log("msg", "mail provider selected", "provider", conf.Mail.Provider)
	return mailer
}

// Configure the relational store (postgres or sqlite3) and create the tables
func ConfigDatabase(conf *global.Config) *repository.SQLRepository {
	repo, err := repository.NewSQLRepository(conf.Database.Driver, conf.Database.URL)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to open database", "driver", conf.Database.Driver, "err", err)
		panic(err)
	}
	return repo
}

// ConfigStalledDeliverySweeper re-enqueues webhook deliveries whose task got lost or never made it to the queue
func ConfigStalledDeliverySweeper(dispatcher *services.WebhookDeliveryService, environment *types.Environment) {
	interval := global.Conf.Webhook.StalledAfterMinutes
	if _, err := environment.Cron.AddFunc(fmt.Sprintf("@every %dm", interval), dispatcher.RequeueStalled); err != nil {
		panic(err)
	}
	environment.Cron.Start()
	go dispatcher.RequeueStalled() // run once on startup
}
