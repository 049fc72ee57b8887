// Command workerd connects to a coordinator, advertises its platform and
// toolchain capabilities, and executes assigned actions inside a sandbox.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bldr/internal/cas"
	"bldr/internal/cluster"
	"bldr/internal/config"
	"bldr/internal/sandbox"
	"bldr/internal/signing"
	"bldr/internal/telemetry"
)

var (
	coordinatorAddr      string
	casDir               string
	casMaxBytes          int64
	backendKind          string
	containerImage       string
	keyDir               string
	sourceDateEpoch      int64
	peerListenAddr       string
	maxConcurrentActions int
	workStealing         bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "workerd",
	Short: "Connect to a coordinator and execute assigned build actions",
	RunE:  runWorker,
}

func init() {
	rootCmd.Flags().StringVar(&coordinatorAddr, "coordinator", "127.0.0.1:7700", "coordinator address")
	rootCmd.Flags().StringVar(&casDir, "cas-dir", cas.DefaultRoot(), "content-addressable store root")
	rootCmd.Flags().Int64Var(&casMaxBytes, "cas-max-bytes", 0, "CAS eviction threshold, 0 for unbounded")
	rootCmd.Flags().StringVar(&backendKind, "sandbox", "process", "execution backend: process|container")
	rootCmd.Flags().StringVar(&containerImage, "image", "", "container image, required when --sandbox=container")
	rootCmd.Flags().StringVar(&keyDir, "key-dir", ".", "directory holding this worker's signing keypair")
	rootCmd.Flags().Int64Var(&sourceDateEpoch, "source-date-epoch", 0, "deterministic timestamp applied to sandboxed executions")
	rootCmd.Flags().StringVar(&peerListenAddr, "peer-listen", "", "address this worker serves peer Steal requests on, empty disables work stealing")
	rootCmd.Flags().IntVar(&maxConcurrentActions, "max-concurrent-actions", 0, "maximum assignments this worker runs at once, 0 uses the configured default")
	rootCmd.Flags().BoolVar(&workStealing, "work-stealing", true, "attempt to steal actions from busy peers when the local queue runs dry")
}

func runWorker(cmd *cobra.Command, args []string) error {
	log := telemetry.NewLogger(os.Stderr, telemetry.LevelInfo).WithComponent("workerd")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	// Flags the caller didn't explicitly pass fall back to the resolved
	// config rather than cobra's hardcoded zero-value defaults.
	if !cmd.Flags().Changed("max-concurrent-actions") {
		maxConcurrentActions = cfg.Cluster.MaxConcurrentActions
	}
	if !cmd.Flags().Changed("work-stealing") {
		workStealing = cfg.Cluster.WorkStealingEnabled
	}
	if !cmd.Flags().Changed("cas-max-bytes") && cfg.Cache.MaxBytes > 0 {
		casMaxBytes = cfg.Cache.MaxBytes
	}

	store, err := cas.Open(casDir, cas.Config{MaxBytes: casMaxBytes, EvictionPolicy: cas.EvictionLRU})
	if err != nil {
		return fmt.Errorf("opening CAS: %w", err)
	}

	kp, err := signing.LoadOrCreateKeyPair(keyDir)
	if err != nil {
		return fmt.Errorf("loading signing keypair: %w", err)
	}
	pubKeyBytes, err := hex.DecodeString(kp.PublicKey)
	if err != nil {
		return fmt.Errorf("decoding worker public key: %w", err)
	}
	hostname, _ := os.Hostname()
	id := cluster.Identity{
		WorkerID: cluster.DeterministicWorkerID(pubKeyBytes, hostname),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Env: cluster.Environment{
			Hostname: hostname,
			OS:       runtime.GOOS,
			Arch:     runtime.GOARCH,
		},
	}

	var exec interface {
		Execute(ctx context.Context, spec sandbox.ActionSpec) (sandbox.Result, error)
	}
	switch backendKind {
	case "process":
		exec = sandbox.NewExecutor(store, sourceDateEpoch)
	case "container":
		if containerImage == "" {
			return fmt.Errorf("--image is required when --sandbox=container")
		}
		ce, err := sandbox.NewContainerExecutor(store, containerImage, sourceDateEpoch)
		if err != nil {
			return fmt.Errorf("creating container executor: %w", err)
		}
		exec = ce
	default:
		return fmt.Errorf("unknown sandbox backend %q", backendKind)
	}

	w := cluster.NewWorker(id, exec, store)
	w.PeerListenAddr = peerListenAddr
	if maxConcurrentActions > 0 {
		w.SetMaxConcurrent(maxConcurrentActions)
	}
	log.Infof("worker %s dialing coordinator at %s", id.WorkerID, coordinatorAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()
	if err := w.Connect(connectCtx, coordinatorAddr); err != nil {
		return fmt.Errorf("connecting to coordinator: %w", err)
	}
	defer w.Close()

	if peerListenAddr != "" {
		ln, err := w.ListenPeers(ctx, peerListenAddr)
		if err != nil {
			return fmt.Errorf("listening for peer steals: %w", err)
		}
		defer ln.Close()
		log.Infof("serving peer steal requests on %s", peerListenAddr)
	}

	if workStealing && peerListenAddr != "" {
		stealer := cluster.NewStealer(id.WorkerID, w.Peers)
		stealer.QueueDepth = w.QueueDepth
		stealer.Dial = func(ctx context.Context, address string) (*cluster.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", address)
			if err != nil {
				return nil, err
			}
			return &cluster.Conn{Conn: conn, ReadTimeout: cluster.DefaultStaleThreshold}, nil
		}
		stealer.OnStolen = func(actions []cluster.AssignPayload) {
			w.Enqueue(actions...)
		}
		go stealer.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker run loop: %w", err)
	}
	return nil
}
