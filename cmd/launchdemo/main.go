// Command launchdemo is a demo/integration driver for the launch
// engine (spec's CLI harness, explicitly scoped as demo/integration
// only, not a real srun reimplementation). It stands up a small fleet
// of in-process fake slurmd peers, runs one Launch to completion
// against them, and prints the state transitions and final result —
// grounded in the teacher's cmd/warren cobra shape: a package-level
// rootCmd, init()-registered flags, RunE handlers reading flags and
// printing status lines.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/tasklaunch/pkg/config"
	"github.com/cuemby/tasklaunch/pkg/launcher"
	"github.com/cuemby/tasklaunch/pkg/launchmsg"
	"github.com/cuemby/tasklaunch/pkg/log"
	"github.com/cuemby/tasklaunch/pkg/metrics"
	"github.com/cuemby/tasklaunch/pkg/msghandler"
	"github.com/cuemby/tasklaunch/pkg/notify"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"github.com/cuemby/tasklaunch/pkg/step"
	"github.com/spf13/cobra"
)

func main() {
	// Re-exec as the Message Handler helper before any cobra setup: the
	// parent spawns this same binary with the helper sentinel set, and
	// it must not fall into the demo's own command tree.
	if msghandler.IsHelperProcess() {
		if err := msghandler.RunHelper(); err != nil {
			fmt.Fprintf(os.Stderr, "launchdemo: helper: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "launchdemo",
	Short: "Run a parallel task launch against in-process fake slurmd peers",
	Long: `launchdemo exercises the launch engine end to end without a real
SLURM cluster: it fabricates a step layout, spawns one in-process fake
slurmd per node, and drives a single Launch call to completion,
printing host/task/job state transitions as they arrive.`,
	RunE: runDemo,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().Int("nodes", 2, "Number of fake slurmd nodes")
	rootCmd.Flags().Int("tasks-per-node", 1, "Tasks launched per node")
	rootCmd.Flags().StringSlice("argv", []string{"/bin/true"}, "Task argv")
	rootCmd.Flags().Int("max-threads", 4, "Worker pool concurrency (fanout/2 thread-pool width)")
	rootCmd.Flags().Bool("kill-on-bad-exit", false, "Force-kill the step on the first non-zero task exit")
	rootCmd.Flags().Bool("one-task-per-node", false, "Coerce the wire-visible task count to 1 per node (MPI launch mode)")
	rootCmd.Flags().Int("fail-node-zero", -1, "Node index whose fake slurmd always fails LaunchTasks (-1 disables)")
	rootCmd.Flags().String("metrics-addr", "", "If set, serve Prometheus metrics on this address for the duration of the run")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runDemo(cmd *cobra.Command, args []string) error {
	nodes, _ := cmd.Flags().GetInt("nodes")
	tasksPerNode, _ := cmd.Flags().GetInt("tasks-per-node")
	argv, _ := cmd.Flags().GetStringSlice("argv")
	maxThreads, _ := cmd.Flags().GetInt("max-threads")
	killOnBadExit, _ := cmd.Flags().GetBool("kill-on-bad-exit")
	oneTaskPerNode, _ := cmd.Flags().GetBool("one-task-per-node")
	failNode, _ := cmd.Flags().GetInt("fail-node-zero")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
		fmt.Printf("Serving metrics on %s\n", metricsAddr)
	}

	nodeList := make([]string, nodes)
	cpus := make([]int, nodes)
	for i := range nodeList {
		nodeList[i] = fmt.Sprintf("demo-node-%d", i)
		cpus[i] = tasksPerNode
	}

	s, err := step.Create(1, 1, step.Allocation{NodeList: nodeList, CPUsPerNode: cpus}, nodes*tasksPerNode, step.Block, 0, false, step.FakeCredential(1, 1), nil, 0, 0)
	if err != nil {
		return fmt.Errorf("build step layout: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	socketDir, err := os.MkdirTemp("", "launchdemo-*")
	if err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	defer os.RemoveAll(socketDir)

	callbackSocket := filepath.Join(socketDir, fmt.Sprintf("tasklaunch-%d.%d.sock", s.JobID, s.StepID))

	fmt.Printf("Launching job %d.%d: %d node(s), %d task(s), argv=%s\n",
		s.JobID, s.StepID, s.NodeCount(), s.TotalTasks(), strings.Join(argv, " "))

	peers, cleanupPeers, err := startFakeSlurmds(socketDir, nodeList, callbackSocket, failNode)
	if err != nil {
		return fmt.Errorf("start fake slurmd fleet: %w", err)
	}
	defer cleanupPeers()

	dial := func(ctx context.Context, host string) (rpc.SlurmdLaunchClient, error) {
		conn, err := rpc.Dial("unix:"+peers[host], nil)
		if err != nil {
			return nil, err
		}
		return rpc.NewSlurmdLaunchClient(conn), nil
	}

	nb := notify.NewBroker()
	sub := nb.Subscribe()
	printDone := make(chan struct{})
	go func() {
		defer close(printDone)
		for c := range sub {
			switch c.Kind {
			case notify.ChangeHost:
				fmt.Printf("  [host]  node=%d -> %s\n", c.NodeIndex, c.Host)
			case notify.ChangeTask:
				fmt.Printf("  [task]  task=%d -> %s\n", c.TaskID, c.Task)
			case notify.ChangeJob:
				fmt.Printf("  [job]   -> %s\n", c.Job)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	opts := launcher.Options{
		MaxThreads:    maxThreads,
		Config:        config.Default(),
		MaxLaunchTime: 30 * time.Second,
		KillOnBadExit: killOnBadExit,
		CallerUID:     uint32(os.Getuid()),
		SlurmUserUID:  uint32(os.Getuid()),
		SocketDir:     socketDir,
		ExecPath:      execPath,
		Dial:          dial,
		BroadcastSignal: func() {
			fmt.Println("  [signal] broadcasting SIGINT to contacted nodes")
		},
		Interrupts: sigCh,
		Notify:     nb,
		Message: launchmsg.Options{
			UID:            uint32(os.Getuid()),
			GID:            uint32(os.Getgid()),
			Argv:           argv,
			Env:            os.Environ(),
			Cwd:            ".",
			OneTaskPerNode: oneTaskPerNode,
		},
	}

	result, err := launcher.Launch(context.Background(), s, opts)

	nb.Unsubscribe(sub)
	<-printDone

	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	fmt.Printf("Final job state: %s, exit code: %d\n", result.JobState, result.ExitCode)
	os.Exit(result.ExitCode)
	return nil
}
