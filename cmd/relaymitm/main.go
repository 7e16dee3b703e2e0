// Command relaymitm runs the intercepting proxy described by this
// repository: `relaymitm proxy` accepts connections per --mode and
// drives them through the layer pipeline; `relaymitm sub` is a minimal
// viewer_channel subscriber that prints published transactions as JSON
// lines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/denisvmedia/relaymitm/bus"
	"github.com/denisvmedia/relaymitm/cert"
	"github.com/denisvmedia/relaymitm/config"
	"github.com/denisvmedia/relaymitm/interceptor"
	"github.com/denisvmedia/relaymitm/internal/stream"
	"github.com/denisvmedia/relaymitm/layer"
	"github.com/denisvmedia/relaymitm/version"

	_ "github.com/denisvmedia/relaymitm/plugin" // registers built-in plugins
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Println(version.String())
			return
		}
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Debug,
	})))

	var runErr error
	switch cfg.Service {
	case "proxy":
		runErr = runProxy(cfg)
	case "sub":
		runErr = runSub(cfg)
	}
	if runErr != nil {
		slog.Error("exiting", "error", runErr)
		os.Exit(1)
	}
}

func runProxy(cfg *config.Config) error {
	ca, err := cert.NewSelfSignCA(cfg.CertDir)
	if err != nil {
		return fmt.Errorf("create CA: %w", err)
	}

	var b bus.Bus
	if cfg.ViewerChannel != "" || cfg.EventsChannel != "" {
		b, err = bus.NewWebsocketBus(cfg.ViewerChannel, cfg.EventsChannel)
		if err != nil {
			return fmt.Errorf("connect publish bus: %w", err)
		}
	}

	registry, err := interceptor.Build(cfg.Plugins)
	if err != nil {
		return err
	}
	manager := interceptor.NewManager(registry, b, slog.Default())

	layerCfg := &layer.Config{
		HTTPPorts:   cfg.HTTPPorts,
		HTTPSPorts:  cfg.HTTPSPorts,
		CA:          ca,
		Interceptor: manager,
	}

	if cfg.Mode == "replay" {
		if cfg.EventsChannel == "" {
			return fmt.Errorf("replay mode requires --events-channel")
		}
		if rs, ok := b.(layer.ReplaySource); ok {
			layerCfg.ReplaySource = rs
		} else {
			layerCfg.ReplaySource = &busReplaySource{bus: b}
		}
	}

	mgr := layer.NewManager(layerCfg, slog.Default())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Mode == "replay" {
		return runReplay(ctx, mgr, layerCfg)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer ln.Close()
	slog.Info("relaymitm listening", "addr", addr, "mode", cfg.Mode)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	mode := layer.Mode(cfg.Mode)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("accept failed", "error", err)
			continue
		}
		go handleConn(ctx, mgr, layerCfg, mode, conn)
	}
}

func handleConn(ctx context.Context, mgr *layer.Manager, layerCfg *layer.Config, mode layer.Mode, conn net.Conn) {
	src := stream.New(conn)
	lc := layer.NewContext(mode, src, layerCfg)
	mgr.Run(ctx, lc)
}

// runReplay drives one ReplayLayer pipeline per stored event until the
// replay source is exhausted or the process is interrupted. Replay mode
// bypasses the usual accept loop entirely (spec.md's "single-shot
// outbound origination... bypassing SOCKS/Transparent entry layers"):
// ReplayLayer dials its own destination and feeds itself a synthetic
// source, so no listening socket is needed here.
func runReplay(ctx context.Context, mgr *layer.Manager, layerCfg *layer.Config) error {
	slog.Info("relaymitm replaying stored transactions")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		lc := layer.NewContext(layer.ModeReplay, nil, layerCfg)
		mgr.Run(ctx, lc)
		if lc.Done && lc.Src == nil {
			// ReplayLayer sets Done before attaching a synthetic source only
			// when its source reports exhaustion (see layer.ReplayLayer.Run).
			// A replayed transaction also ends with Done set, and a
			// dial/protocol error goes through Manager.handleError, which
			// logs it; both of those move on to the next event.
			slog.Info("relaymitm replay source exhausted")
			return nil
		}
	}
}

// busReplaySource adapts a request/reply bus.Bus (events_channel) onto
// layer.ReplaySource's pull-one-at-a-time Next, stamping a fresh request
// id per call.
type busReplaySource struct {
	bus bus.Bus
}

func (s *busReplaySource) Next(ctx context.Context) (*layer.ReplayRequest, error) {
	vc, err := s.bus.Request(ctx, bus.NewRequestID())
	if err != nil {
		return nil, err
	}
	return &layer.ReplayRequest{
		Scheme:  layer.Scheme(vc.Scheme),
		Host:    vc.Host,
		Port:    vc.Port,
		Request: vc.Request,
	}, nil
}

func runSub(cfg *config.Config) error {
	if cfg.ViewerChannel == "" {
		return fmt.Errorf("sub requires --viewer-channel")
	}
	conn, _, err := websocket.DefaultDialer.Dial(cfg.ViewerChannel, nil)
	if err != nil {
		return fmt.Errorf("dial viewer_channel: %w", err)
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("viewer_channel read: %w", err)
		}
		var vc bus.ViewerContext
		if err := json.Unmarshal(data, &vc); err != nil {
			slog.Warn("sub: malformed ViewerContext, skip", "error", err)
			continue
		}
		out, err := json.Marshal(&vc)
		if err != nil {
			continue
		}
		fmt.Println(string(out))
	}
}
