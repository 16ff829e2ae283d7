// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/espargos/sounder/internal/backlog"
	"github.com/espargos/sounder/internal/boardclient"
	"github.com/espargos/sounder/internal/pool"
	"github.com/espargos/sounder/pkg/config"
	"github.com/espargos/sounder/pkg/log"
	"github.com/espargos/sounder/pkg/runtimeEnv"
)

func main() {
	var flagGops bool
	var flagConfigFile, flagAddr, flagUser, flagGroup, flagLogLevel string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the array's `config.json`")
	flag.StringVar(&flagAddr, "addr", ":8080", "Address the operational HTTP surface (`/healthz`, `/metrics`) listens on")
	flag.StringVar(&flagUser, "user", "", "Drop privileges to this user after binding `addr`")
	flag.StringVar(&flagGroup, "group", "", "Drop privileges to this group after binding `addr`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of debug, info, warn, err, crit")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		log.Fatalf("reading %s: %s", flagConfigFile, err.Error())
	}
	arrayConfig, err := config.Load(json.RawMessage(raw))
	if err != nil {
		log.Fatalf("loading %s: %s", flagConfigFile, err.Error())
	}

	boards := make([]*pool.Board, len(arrayConfig.Boards))
	for i, bc := range arrayConfig.Boards {
		client, err := boardclient.Dial(bc.Host)
		if err != nil {
			log.Fatalf("dialing board %q: %s", bc.Host, err.Error())
		}
		boards[i] = pool.NewBoard(i, client)
	}

	p := pool.New(boards)
	if d := arrayConfig.OTACacheTimeout.Get(); d > 0 {
		p.SetClusterTimeout(d)
	}
	if err := p.Start(); err != nil {
		log.Fatalf("starting board streams: %s", err.Error())
	}

	if arrayConfig.CalibrationDuration.Get() > 0 {
		cableLengths := make([]float64, len(arrayConfig.Boards))
		cableVelocityFactors := make([]float64, len(arrayConfig.Boards))
		for i, bc := range arrayConfig.Boards {
			cableLengths[i] = bc.CableLength
			cableVelocityFactors[i] = bc.CableVelocityFactor
		}

		log.Infof("running initial calibration for %s", arrayConfig.CalibrationDuration.Get())
		if _, err := p.Calibrate(pool.CalibrateOptions{
			PerBoard:             arrayConfig.CalibratePerBoard,
			Duration:             arrayConfig.CalibrationDuration.Get(),
			CableLengths:         cableLengths,
			CableVelocityFactors: cableVelocityFactors,
		}); err != nil {
			log.Errorf("initial calibration failed, continuing uncalibrated: %s", err.Error())
		}
	}

	bl := backlog.New(p, backlog.Options{
		EnableHT40: arrayConfig.BacklogEnableHT40,
		EnableLLTF: arrayConfig.BacklogEnableLLTF,
		Calibrate:  p.Calibration() != nil,
		Size:       arrayConfig.BacklogSize,
	})
	bl.Start()

	registry := prometheus.NewRegistry()
	registry.MustRegister(pool.NewCollector(p))

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler(p, bl)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	loggedRouter := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      loggedRouter,
		Addr:         flagAddr,
	}

	listener, err := net.Listen("tcp", flagAddr)
	if err != nil {
		log.Fatalf("binding %s: %s", flagAddr, err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("operational HTTP surface listening at %s", flagAddr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	if err := runtimeEnv.DropPrivileges(flagUser, flagGroup); err != nil {
		log.Fatalf("error while changing user: %s", err.Error())
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	runtimeEnv.SystemdNotifiy(true, "running")
	<-sigs

	runtimeEnv.SystemdNotifiy(false, "shutting down")
	log.Info("shutting down: stopping board readers")
	bl.Stop()
	p.Stop()

	log.Info("shutting down: draining HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	wg.Wait()
	log.Print("graceful shutdown complete")
}

// healthzHandler reports 200 only once every board has a live stream
// and the backlog holds at least one reassembled cluster; this is
// intentionally a readiness check, not just a liveness ping, since a
// daemon whose boards never connected is not actually useful yet.
func healthzHandler(p *pool.Pool, bl *backlog.Backlog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := p.Stats()

		var down []string
		for _, b := range p.Boards() {
			if !b.Stream.Connected() {
				down = append(down, b.Name())
			}
		}

		if len(down) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "boards not connected: %s\n", strings.Join(down, ", "))
			return
		}

		if !bl.Nonempty() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "backlog empty, no reassembled cluster yet")
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok, %d packets handled\n", stats.PacketsHandled)
	}
}
