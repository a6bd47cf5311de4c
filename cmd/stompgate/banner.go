// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"fmt"
	"github.com/fatih/color"
	"github.com/vmware/stompgate/config"
	"io"
	"strings"
)

var (
	titlef = color.New(color.BgHiWhite, color.FgHiBlack, color.Bold).FprintfFunc()
	infof  = color.New(color.FgHiCyan).FprintfFunc()
	warnf  = color.New(color.FgHiYellow).FprintfFunc()
)

// printBanner prints a brief summary of the configuration.
func printBanner(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out)
	titlef(out, " S T O M P G A T E ")
	fmt.Fprintf(out, " %s\n", version)

	row := func(name string, value interface{}) {
		infof(out, "%-24s", name)
		fmt.Fprintln(out, value)
	}

	if cfg.TcpAddress != "" {
		row("TCP listener", cfg.TcpAddress)
	}
	if cfg.WebSocketAddress != "" {
		row("WebSocket listener", cfg.WebSocketAddress+cfg.WebSocketEndpoint)
		if len(cfg.AllowedOrigins) > 0 {
			row("Allowed origins", strings.Join(cfg.AllowedOrigins, ", "))
		}
	}
	if cfg.HeartBeat() > 0 {
		row("Heart-beat", fmt.Sprintf("%d ms", cfg.HeartBeat()))
	} else {
		row("Heart-beat", "disabled")
	}
	row("Users", len(cfg.Users))
	if cfg.AdminAddress != "" {
		row("Admin endpoints", cfg.AdminAddress+" /health /prometheus /sessions")
	}
	if cfg.AuditEnabled() {
		row("Audit exchange", cfg.Amqp.Exchange)
	}
	if len(cfg.Users) == 0 {
		warnf(out, "No users configured, every login will be rejected\n")
	}
	fmt.Fprintln(out)
}
