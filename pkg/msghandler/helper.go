package msghandler

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"os"
	"os/exec"

	"github.com/cuemby/tasklaunch/pkg/eventpipe"
	"github.com/cuemby/tasklaunch/pkg/rpc"
	"google.golang.org/grpc"
)

// helperEnvSentinel marks a re-exec'd process as the Message Handler
// helper rather than the normal launcher entrypoint. This is Go's
// idiomatic rendering of spec §4.6's "forked helper process": no cgo
// fork(), a self-exec of os.Args[0] with the sentinel set and the
// pipe's write end inherited via exec.Cmd.ExtraFiles.
const helperEnvSentinel = "TASKLAUNCH_HELPER"

// socketEnvVar carries the Unix socket path the helper listens on for
// slurmd callbacks, passed from parent to child via the environment
// since a freshly forked-then-exec'd process has no other channel to
// learn it before Serve is called.
const socketEnvVar = "TASKLAUNCH_CALLBACK_SOCKET"

// configEnvVar carries the path to a gob-encoded HelperConfig the
// parent writes before spawning: the step's node/task layout and
// authorized uid set the child needs but cannot learn from the
// one-way pipe.
const configEnvVar = "TASKLAUNCH_HELPER_CONFIG"

// eventPipeFD is the well-known file descriptor the parent places the
// Event Pipe's write end at via exec.Cmd.ExtraFiles (fd 3, the first
// slot after stdin/stdout/stderr).
const eventPipeFD = 3

// HelperConfig is the gob-encodable subset of Config the parent hands
// the re-exec'd child on disk. OnForceTerm is intentionally excluded:
// a function value cannot cross a process boundary, and the child
// already reports FORCETERM as an Event Pipe frame the parent
// observes directly.
type HelperConfig struct {
	NodeTaskIDs           map[int][]int
	TotalTasks            int
	ToleratesNodeFailures bool
	AuthorizedUIDs        []uint32
}

func (h HelperConfig) toConfig() Config {
	uids := make(map[uint32]bool, len(h.AuthorizedUIDs))
	for _, u := range h.AuthorizedUIDs {
		uids[u] = true
	}
	return Config{
		NodeTaskIDs:           h.NodeTaskIDs,
		TotalTasks:            h.TotalTasks,
		ToleratesNodeFailures: h.ToleratesNodeFailures,
		AuthorizedUIDs:        uids,
	}
}

// WriteHelperConfig gob-encodes cfg to path for the child to read
// after re-exec.
func WriteHelperConfig(path string, cfg HelperConfig) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("msghandler: encode helper config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

func readHelperConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("msghandler: read helper config %s: %w", path, err)
	}
	var hc HelperConfig
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&hc); err != nil {
		return Config{}, fmt.Errorf("msghandler: decode helper config: %w", err)
	}
	return hc.toConfig(), nil
}

// IsHelperProcess reports whether the current process was re-exec'd
// as the Message Handler helper.
func IsHelperProcess() bool {
	return os.Getenv(helperEnvSentinel) == "1"
}

// SpawnOptions parameterizes Spawn.
type SpawnOptions struct {
	// ExecPath is the current executable's path (os.Executable()),
	// re-exec'd with the helper sentinel set.
	ExecPath string
	// SocketPath is the Unix socket the helper will listen on.
	SocketPath string
	// ConfigPath is where the parent has already written a
	// HelperConfig via WriteHelperConfig.
	ConfigPath string
	// PipeWrite is the Event Pipe's write end; the child inherits it
	// at eventPipeFD and the parent should close its own copy after
	// Spawn returns.
	PipeWrite *os.File
}

// Spawn re-execs the current binary as the Message Handler helper,
// inheriting the pipe's write end and learning its callback socket
// and config file paths from the environment.
func Spawn(opts SpawnOptions) (*exec.Cmd, error) {
	cmd := exec.Command(opts.ExecPath, os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		helperEnvSentinel+"=1",
		socketEnvVar+"="+opts.SocketPath,
		configEnvVar+"="+opts.ConfigPath,
	)
	cmd.ExtraFiles = []*os.File{opts.PipeWrite}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("msghandler: spawn helper: %w", err)
	}
	return cmd, nil
}

// RunHelper is the helper process's entrypoint, called from main()
// after IsHelperProcess() is observed true. It blocks serving
// callbacks until the listener is closed or the process is signaled.
func RunHelper() error {
	socketPath := os.Getenv(socketEnvVar)
	if socketPath == "" {
		return fmt.Errorf("msghandler: %s not set in helper environment", socketEnvVar)
	}
	configPath := os.Getenv(configEnvVar)
	if configPath == "" {
		return fmt.Errorf("msghandler: %s not set in helper environment", configEnvVar)
	}
	cfg, err := readHelperConfig(configPath)
	if err != nil {
		return err
	}

	pipeFile := os.NewFile(eventPipeFD, "eventpipe-write")
	if pipeFile == nil {
		return fmt.Errorf("msghandler: event pipe fd %d not inherited", eventPipeFD)
	}

	_ = os.Remove(socketPath)
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("msghandler: listen %s: %w", socketPath, err)
	}
	defer lis.Close()

	writer := eventpipe.NewWriter(pipeFile)
	defer writer.Close()

	handler := New(writer, cfg)
	server := grpc.NewServer(grpc.Creds(newPeerCredCredentials()))
	server.RegisterService(&rpc.SlurmdCallbackServiceDesc, handler)

	return server.Serve(lis)
}
