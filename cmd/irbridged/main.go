// irbridged bridges a line-oriented network session to an IR transmitter
// and receiver.  It waits for the network link, serves command sessions
// over TCP (and WebSocket on the HTTP listener), and reacts to received IR
// frames by notifying the open sessions or relaying IR commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adumbdinosaur/irbridge/internal/bridge"
	"github.com/adumbdinosaur/irbridge/internal/config"
	"github.com/adumbdinosaur/irbridge/internal/firewall"
	"github.com/adumbdinosaur/irbridge/internal/ircode"
	"github.com/adumbdinosaur/irbridge/internal/link"
	irlog "github.com/adumbdinosaur/irbridge/internal/logging"
	"github.com/adumbdinosaur/irbridge/internal/metrics"
	"github.com/adumbdinosaur/irbridge/internal/reactor"
	"github.com/adumbdinosaur/irbridge/internal/session"
	"github.com/adumbdinosaur/irbridge/internal/transport"
)

var (
	configPath string
	logFile    string

	// dryRun skips every kernel and hardware side effect: the link is
	// assumed up, IR goes to the log, and no firewall or mDNS is set up.
	// Sessions work normally.
	dryRun bool
)

// Session port binding is retried with exponential backoff before the
// process restarts itself; a port still held by a previous instance usually frees
// within that window.
var (
	listenSessions  = transport.Listen
	bindAttempts    = 4
	bindBackoff     = time.Second
	bindBackoffMax  = 8 * time.Second
	bindFailedDelay = 30 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "irbridged",
	Short: "Network to IR bridge daemon",
	Long: `irbridged waits for the network link, then serves line-oriented command
sessions.  Each configured key sends one IR command; received IR frames are
broadcast to the open sessions or relayed as IR commands.

The config file is taken from --config, then $IRBRIDGE_CONFIG, then
/etc/irbridge/config.yaml.  A missing file means the built-in defaults.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")
	rootCmd.Flags().StringVar(&logFile, "log-file", irlog.DefaultLogFilePath, "Append-only log file (empty for stdout only)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run without touching network, firewall or IR hardware")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ── Logging ─────────────────────────────────────────────────────
	if err := irlog.Init(logFile); err != nil {
		log.Printf("Logging initialization warning: %v", err)
	}
	defer irlog.Close()

	if dryRun {
		log.Println("Starting irbridged [DRY-RUN MODE] …")
	} else {
		log.Println("Starting irbridged …")
	}

	// ── Config ──────────────────────────────────────────────────────
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	port, err := cfg.Session.Port()
	if err != nil {
		return fmt.Errorf("session.listen: %w", err)
	}

	// ── Link ────────────────────────────────────────────────────────
	restarter := link.ExecRestarter{}
	supervisor, cleanupLink, err := newSupervisor(cfg, port)
	if err != nil {
		return err
	}
	defer cleanupLink()

	state, err := supervisor.Establish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Println("Interrupted while waiting for the network link")
			return nil
		}
		// Establish already asked for a restart; getting here means exec failed.
		return fmt.Errorf("link %s: %w", state, err)
	}

	// ── Session listener ────────────────────────────────────────────
	// TCP and WebSocket sessions share one cap.
	slots := transport.NewSlots(cfg.Session.MaxSessions)
	events := make(chan transport.Event, 64)
	srv, err := bindSessions(ctx, cfg.Session, slots, events, restarter)
	if err != nil {
		if ctx.Err() != nil {
			log.Println("Interrupted while binding the session listener")
			return nil
		}
		return err
	}
	defer srv.Close()
	if err := supervisor.Advertise(); err != nil {
		log.Printf("Advertisement initialization warning: %v", err)
	}

	// ── Firewall ────────────────────────────────────────────────────
	if cfg.Firewall.Enabled && !dryRun {
		// The HTTP listener opens sessions too, over /ws.
		httpPort, _ := cfg.HTTP.Port()
		policy, err := firewall.ParsePolicy([]int{port, httpPort}, cfg.Firewall.AllowFrom)
		if err != nil {
			log.Printf("Firewall initialization warning: %v", err)
		} else if err := firewall.Init(policy); err != nil {
			log.Printf("Firewall initialization warning: %v", err)
		}
		defer func() {
			if err := firewall.Shutdown(); err != nil {
				log.Printf("Warning: firewall shutdown: %v", err)
			}
		}()
	}

	// ── IR devices ──────────────────────────────────────────────────
	rx, tx := openDevices(cfg.IR, dryRun)
	defer rx.Close()
	defer tx.Close()

	// ── Core ────────────────────────────────────────────────────────
	m := metrics.New()
	m.WatchDropped(rx.Dropped)
	m.WatchLink(func() int { return int(supervisor.State()) })

	commands := cfg.CommandTable()
	handler := session.NewHandler(commands, tx, m)
	r := reactor.New(reactor.Config{
		Receiver:    rx,
		Actions:     cfg.ActionTable(),
		Notifier:    handler,
		Commands:    commands,
		Transmitter: tx,
		Diagnostics: irlog.Writer(),
		Observer:    m,
	})
	loop := bridge.New(bridge.Config{
		Events:    events,
		Handler:   handler,
		Reactor:   r,
		Link:      supervisor,
		Interval:  cfg.LoopInterval,
		MaxEvents: cfg.MaxEventsPerTick,
	})

	log.Printf("Ready to receive IR signals of protocols: %s", protocolNames())
	irlog.LogEvent("DAEMON", "STARTED", fmt.Sprintf("listen=%s, commands=%d, actions=%d, dry_run=%v",
		srv.Addr(), commands.Len(), len(cfg.Actions), dryRun))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return runReceiver(gctx, rx) })
	if cfg.HTTP.Listen != "" {
		ws := transport.NewWebSocketHandler(gctx, events, slots, cfg.Session.WriteTimeout)
		health := func() (bool, string) {
			st := supervisor.State()
			return st == link.Connected, st.String()
		}
		httpSrv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           metrics.NewRouter(m, health, ws),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serveHTTP(gctx, httpSrv) })
	}

	err = g.Wait()
	log.Println("Shutting down…")
	irlog.LogEvent("DAEMON", "STOPPED", fmt.Sprintf("err=%v", err))
	return err
}

// bindSessions binds the session listener.  Failed binds are retried with
// exponential backoff; when every attempt fails the process waits
// bindFailedDelay and restarts itself, so a port that stays taken costs one
// restart per delay rather than a tight exec loop.
func bindSessions(ctx context.Context, cfg config.SessionConfig, slots *transport.Slots, events chan<- transport.Event, r link.Restarter) (*transport.Server, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = bindBackoff
	eb.MaxInterval = bindBackoffMax
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(bindAttempts-1)), ctx)

	var srv *transport.Server
	bind := func() error {
		var err error
		srv, err = listenSessions(cfg.Listen, slots, events, cfg.WriteTimeout)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Printf("Session listener failed: %v (retrying in %s)", err, next.Round(time.Millisecond))
	}
	err := backoff.RetryNotify(bind, policy, notify)
	if err == nil {
		return srv, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	log.Printf("Session listener failed: %v (restarting in %s)", err, bindFailedDelay)
	irlog.LogEvent("DAEMON", "BIND_FAILED", fmt.Sprintf("addr=%s attempts=%d err=%v", cfg.Listen, bindAttempts, err))
	if werr := sleepCtx(ctx, bindFailedDelay); werr != nil {
		return nil, werr
	}
	if rerr := r.Restart("listener bind failed"); rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return nil, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// newSupervisor builds the link supervisor and returns a cleanup for the
// resources it holds.
func newSupervisor(cfg *config.Config, port int) (*link.Supervisor, func(), error) {
	lc := link.Config{
		Credentials:  link.Credentials{SSID: cfg.Link.SSID, Passphrase: cfg.Link.Passphrase},
		PollInterval: cfg.Link.PollInterval,
		RetryBudget:  cfg.Link.RetryBudget,
		Instance:     cfg.Advertise.Instance,
		Port:         port,
	}

	if dryRun {
		log.Println("[DRY-RUN] Link assumed up, mDNS disabled")
		l := link.StaticLink{IP: net.IPv4(127, 0, 0, 1)}
		return link.NewSupervisor(lc, l, nil, nil, link.ExecRestarter{}), func() {}, nil
	}

	ops, err := link.NewNetlinkOps(cfg.Link.Netns)
	if err != nil {
		return nil, nil, fmt.Errorf("link: %w", err)
	}

	var ind link.Indicator
	if cfg.Link.LED != "" {
		ind = link.NewSysfsLED(cfg.Link.LED)
	}

	var adv link.Advertiser
	var zc *link.ZeroconfAdvertiser
	if cfg.Advertise.Enabled {
		zc = link.NewZeroconfAdvertiser(cfg.Advertise.Service, cfg.Advertise.Domain, cfg.Link.Interface)
		adv = zc
	}

	s := link.NewSupervisor(lc, link.NewNetlinkLink(ops, cfg.Link.Interface), ind, adv, link.ExecRestarter{})
	cleanup := func() {
		if zc != nil {
			zc.Shutdown()
		}
		ops.Close()
	}
	return s, cleanup, nil
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP: Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		// The HTTP surface is optional; losing it must not stop the bridge.
		log.Printf("HTTP server warning: %v", err)
		<-ctx.Done()
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func protocolNames() string {
	var names []string
	for _, p := range ircode.Protocols() {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}
