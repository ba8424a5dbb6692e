package main

import (
	"log"
	"os"

	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
	"github.com/edulane/shule/services/email"
	"github.com/edulane/shule/storage/database"
	"github.com/edulane/shule/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.LoadConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(database.Ping(db))

	// start CLI
	usrRepo := sqlxrepos.NewUserRepository(db)
	cli := commandLine{
		usrSvc:  user.NewService(usrRepo, emailsvc.NewConsoleService(conf), conf),
		usrRepo: usrRepo,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
