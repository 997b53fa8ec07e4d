package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/access"
	"github.com/caredose/caredose/core/backend"
	"github.com/caredose/caredose/core/csql"
	"github.com/caredose/caredose/core/docstore"
	"github.com/caredose/caredose/core/logger"
	"github.com/caredose/caredose/core/notifier"
	"github.com/caredose/caredose/core/registry"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password. Without it, the service runs on the in-memory store"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Port             string `env:"PORT,default=3000" description:"the port to listen on"`
	Issuer           string `env:"ISSUER,optional" description:"the accepted issuer of identity tokens"`
	KeyURL           string `env:"KEY_URL,default=https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com" description:"download url for the issuer's x509 certificates"`
	Admins           string `env:"ADMINS,optional" description:"comma-separated subject identifiers which get the admin role"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,optional" description:"comma-separated Kafka brokers for notifications"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=caredose-notifications" description:"the Kafka topic for notifications"`
	BackdoorToken    string `env:"BACKDOOR_TOKEN,optional" description:"development only: a bearer token with admin rights"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"log level: debug, info, warning or error"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logLevel)
	rlog := logger.Default()

	var store docstore.Store
	var reg *registry.Registry
	if service.Postgres != "" {
		db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "caredose")
		defer db.Close()
		store = docstore.NewPostgres(db)
		r := registry.New(db)
		reg = &r
	} else {
		rlog.Warningln("no POSTGRES configured, running on the in-memory store")
		store = docstore.NewMemory()
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)

	authorizationEnabled := false
	if service.Issuer != "" {
		authorizationEnabled = true
		var admins []string
		for _, admin := range strings.Split(service.Admins, ",") {
			if admin = strings.TrimSpace(admin); admin != "" {
				admins = append(admins, admin)
			}
		}
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			PublicKeyDownloadURL: service.KeyURL,
			Issuer:               service.Issuer,
			Admins:               admins,
			Registry:             reg,
		}))
	}
	if service.BackdoorToken != "" {
		authorizationEnabled = true
		rlog.Warningln("backdoor token is enabled, do not do this in production")
		router.Use(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{
			Backdoors: map[string]access.Authorization{
				service.BackdoorToken: {Subject: "backdoor", Roles: []string{"admin"}},
			},
		}))
	}

	var notify core.Notifier
	if service.KafkaBrokers != "" {
		kafkaNotifier := notifier.NewKafka(service.KafkaBrokers, service.KafkaTopic)
		defer kafkaNotifier.Close()
		notify = kafkaNotifier
	} else {
		notify = notifier.Log{}
	}

	backend.New(&backend.Builder{
		Store:                store,
		Router:               router,
		Notifier:             notify,
		AuthorizationEnabled: authorizationEnabled,
	})

	rlog.Infoln("listen on port :" + service.Port)
	handler := handlers.CombinedLoggingHandler(os.Stdout, handlers.CompressHandler(router))
	if err := http.ListenAndServe(":"+service.Port, handler); err != nil {
		rlog.Fatalln(err)
	}
}
