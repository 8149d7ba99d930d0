package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ot2-calibration/cmd"
	"ot2-calibration/internal/config"
)

type flagValues struct {
	envFile string
	verbose bool
	logFile string

	host           string
	candidateHosts []string
	pickFirst      bool
	apiPort        int
	apiVersion     string
	httpTimeout    time.Duration

	sshUser           string
	sshPort           int
	sshKey            string
	sshKeyDir         string
	sshKeyScope       string
	ensureSSHKey      bool
	sshKeyHelper      string
	knownHosts        string
	sshConnectTimeout time.Duration

	remoteTag             string
	restartRobotServer    bool
	restartWait           time.Duration
	readyPollInterval     time.Duration
	restartCommandTimeout time.Duration
	dryRun                bool
	offsetsDir            string
	templateBucket        string
	templatePrefix        string
	leftSerial            string
	rightSerial           string
	noHistory             bool

	pullDir    string
	pullBucket string
	apiOnly    bool

	limit    int
	allHosts bool

	listen string
}

type app struct {
	flags    flagValues
	cfg      config.Config
	stdout   io.Writer
	stderr   io.Writer
	closeLog func()
}

func override(c *cobra.Command, name string, apply func()) {
	if c.Flags().Changed(name) {
		apply()
	}
}

// applyFlags copies every flag given on the command line over the
// environment derived configuration.
func (a *app) applyFlags(c *cobra.Command, cfg *config.Config) {
	f := &a.flags
	override(c, "host", func() { cfg.Host = f.host })
	override(c, "candidate-hosts", func() { cfg.CandidateHosts = f.candidateHosts })
	override(c, "pick-first", func() { cfg.PickFirst = f.pickFirst })
	override(c, "api-port", func() { cfg.ApiPort = f.apiPort })
	override(c, "api-version", func() { cfg.ApiVersion = f.apiVersion })
	override(c, "http-timeout", func() { cfg.HTTPTimeout = f.httpTimeout })
	override(c, "log-file", func() { cfg.LogFile = f.logFile })

	override(c, "ssh-user", func() { cfg.SSHUser = f.sshUser })
	override(c, "ssh-port", func() { cfg.SSHPort = f.sshPort })
	override(c, "ssh-key", func() { cfg.SSHKey = f.sshKey })
	override(c, "ssh-key-dir", func() { cfg.SSHKeyDir = f.sshKeyDir })
	override(c, "ssh-key-scope", func() { cfg.SSHKeyScope = f.sshKeyScope })
	override(c, "ensure-ssh-key", func() { cfg.EnsureSSHKey = f.ensureSSHKey })
	override(c, "ssh-key-helper", func() { cfg.SSHKeyHelper = f.sshKeyHelper })
	override(c, "known-hosts", func() { cfg.KnownHosts = f.knownHosts })
	override(c, "ssh-connect-timeout", func() { cfg.SSHConnectTimeout = f.sshConnectTimeout })

	override(c, "remote-tag", func() { cfg.RemoteTag = f.remoteTag })
	override(c, "restart-robot-server", func() { cfg.RestartRobotServer = f.restartRobotServer })
	override(c, "restart-wait", func() { cfg.RestartWait = f.restartWait })
	override(c, "ready-poll-interval", func() { cfg.ReadyPollInterval = f.readyPollInterval })
	override(c, "restart-command-timeout", func() { cfg.RestartCommandTimeout = f.restartCommandTimeout })
	override(c, "dry-run", func() { cfg.DryRun = f.dryRun })
	override(c, "offsets-dir", func() { cfg.OffsetsDir = f.offsetsDir })
	override(c, "template-bucket", func() { cfg.TemplateBucket = f.templateBucket })
	override(c, "template-prefix", func() { cfg.TemplatePrefix = f.templatePrefix })
	override(c, "no-history", func() { cfg.HistoryDisabled = f.noHistory })

	override(c, "out-dir", func() { cfg.PullDir = f.pullDir })
	override(c, "bucket", func() { cfg.PullBucket = f.pullBucket })
	override(c, "listen", func() { cfg.HistoryListen = f.listen })

	if f.verbose {
		cfg.LogLevel = "debug"
	}
}

func (a *app) setup(c *cobra.Command, args []string) error {
	if err := cmd.LoadEnvFile(a.flags.envFile); err != nil {
		return &cmd.UsageError{Err: err}
	}

	cfg, err := config.Load()
	if err != nil {
		return &cmd.UsageError{Err: err}
	}
	a.applyFlags(c, &cfg)
	if err := cfg.Validate(); err != nil {
		return &cmd.UsageError{Err: err}
	}

	level, _ := cfg.SlogLevel()
	closeLog, err := cmd.InitLogger(level, cfg.LogFile)
	if err != nil {
		return err
	}
	a.closeLog = closeLog
	a.cfg = cfg
	return nil
}

func (a *app) teardown(c *cobra.Command, args []string) {
	if a.closeLog != nil {
		a.closeLog()
	}
}

func noArgs(c *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &cmd.UsageError{Err: cobra.NoArgs(c, args)}
	}
	return nil
}

func addSSHFlags(c *cobra.Command, f *flagValues) {
	c.Flags().StringVar(&f.sshUser, "ssh-user", "", "ssh user on the robot (OT2_SSH_USER, default root)")
	c.Flags().IntVar(&f.sshPort, "ssh-port", 0, "ssh port (OT2_SSH_PORT, default 22)")
	c.Flags().StringVar(&f.sshKey, "ssh-key", "", "private key authorized on the robot (OT2_SSH_KEY)")
	c.Flags().StringVar(&f.sshKeyDir, "ssh-key-dir", "", "directory holding provisioned keys (OT2_SSH_KEY_DIR)")
	c.Flags().StringVar(&f.sshKeyScope, "ssh-key-scope", "", "per-robot or shared key naming (OT2_SSH_KEY_SCOPE)")
	c.Flags().BoolVar(&f.ensureSSHKey, "ensure-ssh-key", true, "provision a key with the key helper when none is found (OT2_ENSURE_SSH_KEY)")
	c.Flags().StringVar(&f.sshKeyHelper, "ssh-key-helper", "", "command that prints an authorized key path (OT2_SSH_KEY_HELPER)")
	c.Flags().StringVar(&f.knownHosts, "known-hosts", "", "known_hosts file (OT2_KNOWN_HOSTS)")
	c.Flags().DurationVar(&f.sshConnectTimeout, "ssh-connect-timeout", 0, "ssh connect timeout (OT2_SSH_CONNECT_TIMEOUT)")
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	f := &a.flags

	root := &cobra.Command{
		Use:   "ot2cal",
		Short: "Deploy standard calibration offsets to Opentrons OT-2 robots",
		Long: `ot2cal binds calibration templates to the pipettes attached to an OT-2,
stages the resulting records over ssh, commits and validates them on the
robot, then restarts robot-server and waits until it is ready again.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &cmd.UsageError{Err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&f.envFile, "env", "", "path to load env from")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&f.logFile, "log-file", "", "also write logs to this file (LOG_FILE)")
	pf.StringVar(&f.host, "host", "", "robot host or IP (OT2_HOST); resolved from candidates when empty")
	pf.StringSliceVar(&f.candidateHosts, "candidate-hosts", nil, "hosts probed when --host is empty (OT2_CANDIDATE_HOSTS)")
	pf.BoolVar(&f.pickFirst, "pick-first", false, "use the first reachable candidate when several respond (OT2_PICK_FIRST)")
	pf.IntVar(&f.apiPort, "api-port", 0, "robot-server HTTP port (OT2_API_PORT, default 31950)")
	pf.StringVar(&f.apiVersion, "api-version", "", "opentrons-version header value (OT2_API_VERSION, default 2)")
	pf.DurationVar(&f.httpTimeout, "http-timeout", 0, "robot-server request timeout (OT2_HTTP_TIMEOUT)")

	root.AddCommand(
		newApplyCmd(a),
		newPullCmd(a),
		newHistoryCmd(a),
		newResolveHostCmd(a),
		newEventsCmd(a),
		newServeCmd(a),
	)
	return root
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		err = &cmd.UsageError{Err: err}
	}
	return cmd.Exit(err, stderr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
