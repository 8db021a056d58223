package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/shopwire/shopwire/api"
	"github.com/shopwire/shopwire/backplane"
	"github.com/shopwire/shopwire/config"
	"github.com/shopwire/shopwire/globals"
	"github.com/shopwire/shopwire/persistence"
	"github.com/shopwire/shopwire/ws"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	registry := ws.NewRegistry()
	verifier := ws.NewVerifier(persister, globalConfig.HubConfig.VerifyTimeout())

	var relay ws.Relay
	bp, err := backplane.New(globalConfig, uuid.NewString())
	if err != nil {
		panic(err)
	}
	if bp != nil {
		relay = bp
		defer bp.Close()
	}
	emitter := ws.NewEmitter(registry, relay)
	if bp != nil {
		if err := bp.Start(emitter); err != nil {
			panic(err)
		}
	}

	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err = cronRunner.AddFunc("@every 1m", func() {
		rooms := registry.Rooms()
		connections := 0
		for _, n := range rooms {
			connections += n
		}
		globals.AppLogger.Info("room stats", "rooms", len(rooms), "connections", connections)
	})
	if err != nil {
		panic(err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	router := mux.NewRouter()
	router.Handle("/ws", ws.NewHandler(globalConfig, registry, verifier)).Methods(http.MethodGet)
	api.New(globalConfig, persister, emitter, verifier).Routes(router)

	srv := &http.Server{Addr: *addr, Handler: router}
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		globals.AppLogger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = srv.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		globals.AppLogger.Error("stopped listening", "error", err)
		os.Exit(1)
	}
}
