package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabdaemon/tabd/internal/clientserver"
	"github.com/tabdaemon/tabd/internal/config"
	"github.com/tabdaemon/tabd/internal/daemon"
	"github.com/tabdaemon/tabd/internal/log"
	"github.com/tabdaemon/tabd/internal/paths"
	"github.com/tabdaemon/tabd/internal/procutil"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the tabd daemon",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	return cmd
}

func resolveOverrides() config.Overrides {
	return config.Overrides{SocketPath: socketFlag, Port: portFlag, Browser: browserFlag}
}

func newDaemonStartCmd() *cobra.Command {
	var detach bool
	var internal bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tabd daemon",
		Example: `  tabd daemon start
  # Starts the daemon in the foreground

  tabd daemon start -d
  # Starts the daemon detached in the background`,
		Run: func(cmd *cobra.Command, args []string) {
			if detach && !internal {
				daemonize()
				return
			}
			runForeground()
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run the daemon in the background")
	cmd.Flags().BoolVar(&internal, "_internal", false, "Internal flag used by the detaching parent")
	cmd.Flags().MarkHidden("_internal")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the tabd daemon",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load(resolveOverrides())
			pidPath := paths.PIDPath(cfg.IPCSocketPath)

			if !clientserver.IsRunning(cfg.IPCSocketPath, pidPath) {
				if jsonOutput {
					printJSON(jsonEnvelope{OK: true, Result: map[string]interface{}{"running": false}})
					return
				}
				fmt.Println("Daemon is not running.")
				return
			}

			data, err := os.ReadFile(pidPath)
			if err != nil {
				printErrorAndExit(fmt.Errorf("reading PID file: %w", err))
				return
			}
			var pid int
			fmt.Sscanf(string(data), "%d", &pid)

			proc, err := os.FindProcess(pid)
			if err != nil {
				printErrorAndExit(fmt.Errorf("locating daemon process: %w", err))
				return
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				printErrorAndExit(fmt.Errorf("stopping daemon: %w", err))
				return
			}

			if jsonOutput {
				printJSON(jsonEnvelope{OK: true, Result: map[string]interface{}{"stopped": true}})
				return
			}
			fmt.Println("Daemon stopped.")
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load(resolveOverrides())
			pidPath := paths.PIDPath(cfg.IPCSocketPath)

			if !clientserver.IsRunning(cfg.IPCSocketPath, pidPath) {
				if jsonOutput {
					printJSON(jsonEnvelope{OK: true, Result: map[string]interface{}{"running": false}})
					return
				}
				fmt.Println("Daemon is not running.")
				return
			}

			endpoint, err := clientserver.GetEndpoint(cfg.IPCSocketPath)
			if err != nil {
				printErrorAndExit(fmt.Errorf("getting status: %w", err))
				return
			}

			if jsonOutput {
				printJSON(jsonEnvelope{OK: true, Result: map[string]interface{}{
					"running": true,
					"socket":  cfg.IPCSocketPath,
					"wsHost":  endpoint.IP,
					"wsPort":  endpoint.Port,
				}})
				return
			}

			fmt.Println("status:   running")
			fmt.Printf("socket:   %s\n", cfg.IPCSocketPath)
			fmt.Printf("wsEndpoint: %s:%d\n", endpoint.IP, endpoint.Port)
		},
	}
}

// runForeground starts the daemon controller in the current process and
// blocks until it's told to shut down.
func runForeground() {
	cfg := config.Load(resolveOverrides())
	pidPath := paths.PIDPath(cfg.IPCSocketPath)

	if clientserver.IsRunning(cfg.IPCSocketPath, pidPath) {
		fmt.Fprintln(os.Stderr, "Daemon is already running.")
		os.Exit(1)
	}

	controller := daemon.New(cfg)
	if err := controller.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	cancel := procutil.InstallShutdownHandler(func() {
		log.Info("daemon shutting down")
		controller.Stop()
		close(done)
	})
	defer cancel()

	fmt.Fprintf(os.Stderr, "Daemon starting (pid %d, socket %s)\n", os.Getpid(), cfg.IPCSocketPath)
	<-done
}

// daemonize re-execs the current binary as a detached background process
// and waits for its socket to come up.
func daemonize() {
	cfg := config.Load(resolveOverrides())
	pidPath := paths.PIDPath(cfg.IPCSocketPath)

	if clientserver.IsRunning(cfg.IPCSocketPath, pidPath) {
		fmt.Println("Daemon is already running.")
		return
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding executable: %v\n", err)
		os.Exit(1)
	}

	args := []string{"daemon", "start", "--_internal"}
	if socketFlag != "" {
		args = append(args, "--socket="+socketFlag)
	}
	if portFlag != 0 {
		args = append(args, fmt.Sprintf("--port=%d", portFlag))
	}
	if browserFlag != "" {
		args = append(args, "--browser="+browserFlag)
	}

	child := exec.Command(exe, args...)
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	if err := waitForSocket(cfg.IPCSocketPath, 5*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon failed to start: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Daemon started (pid %d)\n", child.Process.Pid)
}

func waitForSocket(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 50 * time.Millisecond

	for time.Now().Before(deadline) {
		if clientserver.Ping(socketPath) {
			return nil
		}
		time.Sleep(interval)
		if interval < 500*time.Millisecond {
			interval *= 2
		}
	}
	return fmt.Errorf("socket not available after %s", timeout)
}
