// Command osc2dmx bridges OSC control messages to a DMX512 universe
// over an FTDI USB-to-serial adapter.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
	"github.com/doismellburning/osc2dmx/internal/config"
	"github.com/doismellburning/osc2dmx/internal/dmxlink"
	"github.com/doismellburning/osc2dmx/internal/supervisor"
	"github.com/lestrrat-go/strftime"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, printed, exit, err := config.Parse(args)
	if exit {
		fmt.Println(printed)
		return 0
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := log.New(os.Stderr)
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	listenAddr, err := supervisor.ParseListenAddr(cfg.ListenURI)
	if err != nil {
		logger.Error("osc2dmx: bad listen URI", "err", err)
		return 2
	}

	if cfg.Announce {
		stopAnnounce := announce(listenAddr, logger)
		defer stopAnnounce()
	}

	dumpPath, err := debugDumpPath(cfg.DebugDump)
	if err != nil {
		logger.Error("osc2dmx: bad --debug-dump pattern", "err", err)
		return 2
	}

	sv := supervisor.New(supervisor.Config{
		Identity: dmxlink.Identity{
			VID:         cfg.VID,
			PID:         cfg.PID,
			Description: cfg.Description,
			Serial:      cfg.Serial,
		},
		GPIO:          gpioEnable(cfg),
		FPS:           cfg.FPS,
		ListenAddr:    listenAddr,
		AutoReconnect: cfg.AutoReconnect,
		IngressPrio:   cfg.IngressPrio,
		EmitterPrio:   cfg.EmitterPrio,
		DebugDumpPath: dumpPath,
	}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigCh
		logger.Info("osc2dmx: shutting down", "signal", sig)
		sv.Stop()
	}()

	if err := sv.Run(); err != nil {
		logger.Error("osc2dmx: fatal error", "err", err)
		return 1
	}

	return 0
}

// debugDumpPath expands pattern (an strftime(3) template, the same
// kind src/tq.go and src/xmit.go format their timestamp prefixes with)
// against the current time. An empty pattern disables the dump.
func debugDumpPath(pattern string) (string, error) {
	if pattern == "" {
		return "", nil
	}

	return strftime.Format(pattern, time.Now())
}

func gpioEnable(cfg config.Config) *dmxlink.GPIOEnable {
	if cfg.GPIOChip == "" {
		return nil
	}

	return &dmxlink.GPIOEnable{Chip: cfg.GPIOChip, Line: cfg.GPIOLine}
}

// announce advertises the OSC listener via mDNS/DNS-SD, the same
// pure-Go announcement library the teacher uses for its KISS-over-TCP
// service, generalised to an OSC-over-UDP service type. The returned
// func stops the responder.
func announce(listenAddr string, logger *log.Logger) func() {
	port, err := portFromAddr(listenAddr)
	if err != nil {
		logger.Warn("osc2dmx: DNS-SD: can't determine port to announce", "err", err)
		return func() {}
	}

	cfg := dnssd.Config{ //nolint:exhaustruct
		Name: "osc2dmx",
		Type: "_osc._udp",
		Port: port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		logger.Warn("osc2dmx: DNS-SD: failed to create service", "err", err)
		return func() {}
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		logger.Warn("osc2dmx: DNS-SD: failed to create responder", "err", err)
		return func() {}
	}

	if _, err := responder.Add(service); err != nil {
		logger.Warn("osc2dmx: DNS-SD: failed to add service", "err", err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := responder.Respond(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("osc2dmx: DNS-SD: responder error", "err", err)
		}
	}()

	logger.Info("osc2dmx: announcing via DNS-SD", "port", port)

	return cancel
}

func portFromAddr(addr string) (int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0, fmt.Errorf("osc2dmx: no port in listen address %q", addr)
	}

	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return 0, fmt.Errorf("osc2dmx: parsing port from %q: %w", addr, err)
	}

	return port, nil
}
