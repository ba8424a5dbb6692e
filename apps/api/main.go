package main

import (
	"log"
	"os"

	"github.com/edulane/shule/apps/api/echo"
	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
	"github.com/edulane/shule/services/email"
	"github.com/edulane/shule/services/logger"
	"github.com/edulane/shule/storage/database"
	"github.com/edulane/shule/storage/database/sqlx"
)

func main() {
	conf := core.LoadConfig()

	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	var appLogger core.Logger
	if conf.Debug || conf.TestMode {
		appLogger = logsvc.NewStdLogger(std)
	} else {
		appLogger = logsvc.NewRollbarLogger(std, conf)
	}

	// set up DB
	db, err := database.Open(conf)
	errAndDie(std, err)
	defer db.Close()
	errAndDie(std, database.Ping(db))

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, appLogger)
	}
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)

	// start API server
	app := echoapi.NewServer(
		&echoapi.Options{
			Addr:    conf.Server.Address(),
			Conf:    conf,
			Logger:  appLogger,
			UserSvc: usrSvc,
		},
	)
	app.Start()
}

func errAndDie(std *log.Logger, err error) {
	if err != nil {
		std.Fatal(err)
	}
}
