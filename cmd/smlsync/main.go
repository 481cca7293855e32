// Command smlsync is the CLI entry point for the synchronization engine:
// it resolves a Configuration from flags and INI-style config files, then
// hands it to the Controller.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/smlsync/smlsync/pkg/config"
	"github.com/smlsync/smlsync/pkg/controller"
	"github.com/smlsync/smlsync/pkg/exchange"
	"github.com/smlsync/smlsync/pkg/logging"
	"github.com/smlsync/smlsync/pkg/syncerrors"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var rootConfiguration struct {
	project string
	remote  string
	local   string
	ignore  []string
	debug   bool
	server  string
	version bool
}

var defaultIgnore = []string{"/.git", "/.smlsync.ini", "__pycache__", "*.pyc"}

var rootCommand = &cobra.Command{
	Use:   "smlsync",
	Short: "smlsync synchronizes a local directory with a remote directory over SSH.",
	RunE:  run,
}

func init() {
	flags := rootCommand.Flags()
	flags.StringVar(&rootConfiguration.project, "project", "", "Project name or UUID (required if not set in config)")
	flags.StringVar(&rootConfiguration.remote, "remote", "", "Remote path (prompted for if absent and not in config)")
	flags.StringVar(&rootConfiguration.local, "local", ".", "Local directory to synchronize")
	flags.StringSliceVar(&rootConfiguration.ignore, "ignore", nil, "Ignore patterns (replaces the default and configured list if given)")
	flags.BoolVar(&rootConfiguration.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&rootConfiguration.server, "server", "", "Server name or UUID (defaults to any running server)")
	flags.BoolVar(&rootConfiguration.version, "version", false, "Print version and exit")

	cobra.EnableCommandSorting = false
}

func main() {
	// Every error run can return synchronously (before the Controller takes
	// over) is a ConfigError or IdentityResolutionError, both exit code 1.
	// Fatal transport failures surface later, asynchronously, through
	// STOP_CALLED rather than as a returned error here.
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, arguments []string) error {
	if rootConfiguration.version {
		fmt.Println(version)
		return nil
	}

	logger := logging.RootLogger.Sublogger("smlsync")
	logging.SetDebug(rootConfiguration.debug)

	localDir, err := filepath.Abs(rootConfiguration.local)
	if err != nil {
		return syncerrors.NewConfigError("unable to resolve local directory", err)
	}

	userWidePath := ""
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		userWidePath = filepath.Join(home, ".config", "smlsync", "config.ini")
	}
	cfg, err := config.Load(userWidePath, localDir, ".smlsync.ini")
	if err != nil {
		return err
	}
	project, _ := cfg.ForRoot(localDir)

	projectName := rootConfiguration.project
	if projectName == "" {
		projectName = project.Project
	}
	if projectName == "" {
		return syncerrors.NewConfigError("--project is required (not set on the command line or in configuration)", nil)
	}

	remote := rootConfiguration.remote
	if remote == "" {
		remote = project.Remote
	}

	ignore := rootConfiguration.ignore
	if len(ignore) == 0 {
		ignore = append(append([]string{}, defaultIgnore...), project.Ignore...)
	}

	sshDetails, err := resolveSSHDetails(projectName, rootConfiguration.server)
	if err != nil {
		return err
	}

	ex := exchange.New(logger.Sublogger("exchange"))
	ex.Start()
	defer ex.Join()

	ex.Subscribe(exchange.PromptForRemoteDirectory, func(interface{}) {
		promptForRemoteDirectory(logger, func(path string) {
			ctrl.SetRemoteDirectory(path)
		})
	})
	ex.Subscribe(exchange.WalkStatusChange, func(payload interface{}) {
		if status, ok := payload.(controller.WalkStatus); ok {
			logger.Info("%s", status)
		}
	})
	ex.Subscribe(exchange.DisplayDifferences, func(payload interface{}) {
		logger.Info("differences ready")
	})

	ctrl = controller.New(controller.Config{
		LocalDir:  localDir,
		RemoteDir: remote,
		Username:  sshDetails.Username,
		Hostname:  sshDetails.Hostname,
		Port:      sshDetails.Port,
		KeyFile:   sshDetails.KeyFile,
		Excludes:  ignore,
	}, ex, logger.Sublogger("controller"))
	ctrl.Start()

	// waitForSignalOrStop blocks until STOP_CALLED fires, by which point the
	// Controller's own subscriber has already run Shutdown to completion
	// (subscribers are delivered in registration order and the Controller
	// subscribed first).
	waitForSignalOrStop(ex)
	ex.Stop()
	return nil
}

// ctrl is package-level so the PROMPT_FOR_REMOTE_DIRECTORY subscriber
// (registered before the Controller exists) can reach it once constructed.
var ctrl *controller.Controller

type sshIdentity struct {
	Username string
	Hostname string
	Port     int
	KeyFile  string
}

// resolveSSHDetails is a thin stand-in for identity resolution: a real
// deployment would resolve project/server names against a directory
// service; this CLI expects the connection details via environment
// variables and a private key file path.
func resolveSSHDetails(project, server string) (sshIdentity, error) {
	host := os.Getenv("SMLSYNC_HOST")
	user := os.Getenv("SMLSYNC_USER")
	key := os.Getenv("SMLSYNC_KEY")
	if host == "" || user == "" || key == "" {
		return sshIdentity{}, &syncerrors.IdentityResolutionError{
			Message: fmt.Sprintf("unable to resolve connection details for project %q (server %q); set SMLSYNC_HOST, SMLSYNC_USER and SMLSYNC_KEY", project, server),
		}
	}
	port := 22
	if portStr := os.Getenv("SMLSYNC_PORT"); portStr != "" {
		fmt.Sscanf(portStr, "%d", &port)
	}
	return sshIdentity{Username: user, Hostname: host, Port: port, KeyFile: key}, nil
}

func promptForRemoteDirectory(logger *logging.Logger, set func(string)) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		logger.Warn(syncerrors.NewConfigError("no remote directory configured and stdin is not a terminal to prompt on", nil))
		return
	}
	fmt.Fprint(os.Stdout, "Remote directory: ")
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		set(strings.TrimSpace(scanner.Text()))
	}
}

func waitForSignalOrStop(ex *exchange.Exchange) {
	stopped := make(chan struct{})
	ex.Subscribe(exchange.StopCalled, func(interface{}) { close(stopped) })

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case <-signals:
		ex.Publish(exchange.StopCalled, nil)
		<-stopped
	case <-stopped:
	}
}
