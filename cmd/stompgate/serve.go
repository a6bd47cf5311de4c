// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"context"
	"errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vmware/stompgate/admin"
	"github.com/vmware/stompgate/audit"
	"github.com/vmware/stompgate/config"
	"github.com/vmware/stompgate/engine"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/login"
	"github.com/vmware/stompgate/metrics"
	"github.com/vmware/stompgate/monitor"
	"github.com/vmware/stompgate/stompserver"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 5 * time.Second

// flag name -> config key
var serveFlags = map[string]string{
	"tcp":                    config.KeyTcpAddress,
	"ws":                     config.KeyWebSocketAddress,
	"ws-endpoint":            config.KeyWebSocketEndpoint,
	"allow-origin":           config.KeyAllowedOrigins,
	"heartbeat":              config.KeyHeartbeat,
	"max-frame-size":         config.KeyMaxFrameSize,
	"max-connections":        config.KeyMaxConnections,
	"close-on-not-logged-in": config.KeyCloseOnNotLoggedIn,
	"admin":                  config.KeyAdminAddress,
	"log-level":              config.KeyLogLevel,
	"log-format":             config.KeyLogFormat,
	"amqp-url":               config.KeyAmqpUrl,
}

func configureServeFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.String("tcp", "", "address of the raw TCP STOMP listener (default \":61613\")")
	flags.String("ws", "", "address of the WebSocket STOMP listener, empty to disable")
	flags.String("ws-endpoint", "", "HTTP path of the WebSocket endpoint (default \"/stomp\")")
	flags.StringSlice("allow-origin", nil, "origin host patterns accepted by the WebSocket listener")
	flags.Int64("heartbeat", 0, "heart-beat interval in milliseconds offered to clients (default 10000)")
	flags.Int("max-frame-size", 0, "largest incomplete frame in bytes a connection may buffer (default 1048576)")
	flags.Int("max-connections", 0, "maximum simultaneous TCP connections, 0 for no limit")
	flags.Bool("close-on-not-logged-in", true, "close connections that send frames before logging in")
	flags.String("admin", "", "address of the admin HTTP server (default \":8080\")")
	flags.String("log-level", "", "log level (default \"info\")")
	flags.String("log-format", "", "log format, text or json (default \"text\")")
	flags.String("amqp-url", "", "AMQP broker receiving audit events, empty to disable")
}

func bindServeFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range serveFlags {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start accepting STOMP connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindServeFlags(v, cmd.Flags()); err != nil {
				return err
			}
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return serve(cmd, cfg)
		},
	}
	configureServeFlags(cmd.Flags())
	return cmd
}

func newConnectionListener(cfg *config.Config) (stompserver.RawConnectionListener, error) {
	var listeners []stompserver.RawConnectionListener
	if cfg.TcpAddress != "" {
		l, err := stompserver.NewTcpConnectionListener(cfg.TcpAddress, cfg.MaxConnections)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
	}
	if cfg.WebSocketAddress != "" {
		l, err := stompserver.NewWebSocketConnectionListener(cfg.WebSocketAddress, cfg.WebSocketEndpoint, cfg.AllowedOrigins, int64(cfg.MaxFrameBytes))
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return nil, err
		}
		listeners = append(listeners, l)
	}

	switch len(listeners) {
	case 0:
		return nil, errors.New("no listener configured")
	case 1:
		return listeners[0], nil
	default:
		return stompserver.NewJoinedConnectionListener(listeners...), nil
	}
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	if err := log.Configure(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	frameMetrics, err := metrics.NewFrameMetrics(reg)
	if err != nil {
		return err
	}

	listener, err := newConnectionListener(cfg)
	if err != nil {
		return err
	}

	events := monitor.NewMonitorStream(256)
	done := make(chan struct{})
	defer close(done)
	go events.LogEvents(done)

	server := stompserver.NewStompServer(listener, cfg, login.NewStaticHandler(cfg.UserTable()),
		engine.WithObserver(frameMetrics), engine.WithObserver(events))
	server.OnConnectionClosed(events.ConnectionClosed)
	if err := server.AddListener(frameMetrics.Listener()); err != nil {
		return err
	}
	if err := metrics.RegisterSessionGauges(reg, server); err != nil {
		return err
	}

	if cfg.AuditEnabled() {
		conn, ch, err := audit.Dial(cfg.Amqp.Url, cfg.Amqp.Exchange)
		if err != nil {
			listener.Close()
			return err
		}
		defer conn.Close()
		types, _ := cfg.AuditedTypes()
		if err := server.AddListener(audit.NewAuditor(ch, cfg.Amqp.Exchange, types).Listener()); err != nil {
			return err
		}
	}

	var adminServer *http.Server
	if cfg.AdminAddress != "" {
		adminServer = admin.NewServer(cfg.AdminAddress, server, reg)
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Log.Errorf("admin server stopped: %v", err)
			}
		}()
	}

	printBanner(cmd.OutOrStdout(), cfg)
	go server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Log.Infoln("shutting down")

	server.Stop()
	if adminServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return adminServer.Shutdown(ctx)
	}
	return nil
}
