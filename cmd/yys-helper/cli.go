package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"jordanella.com/yys-helper/internal/bot"
	"jordanella.com/yys-helper/internal/config"
	"jordanella.com/yys-helper/internal/emulator"
	"jordanella.com/yys-helper/internal/events"
	"jordanella.com/yys-helper/internal/logging"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// CLI holds the state shared by every subcommand.
type CLI struct {
	configPath string
	verbose    bool
	noColor    bool

	out     io.Writer
	config  *config.Config
	log     *logging.Logger
	logFile *os.File

	events      *events.DefaultEventBus
	eventLogger *logging.EventLogger
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	cli := &CLI{out: os.Stdout}

	rootCmd := &cobra.Command{
		Use:   "yys-helper",
		Short: "Screen-driven automation for Onmyoji on an Android emulator",
		Long: fmt.Sprintf(`%s

Captures the emulator screen over adb, recognises where the game is by
template matching, and taps through task scripts until they finish.

%s
  yys-helper tasks                       # List task scripts
  yys-helper run anniversary             # Run a task until it ends
  yys-helper run exploration --dry-run   # Match and log, send no input
  yys-helper match frame.png start       # Score a template on a saved frame`,
			bold("yys-helper"),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.out = cmd.OutOrStdout()
			if cli.noColor {
				color.NoColor = true
			}
		},
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.PersistentFlags().StringVar(&cli.configPath, "config", "config.yaml", "Config file (.yaml or legacy .ini)")
	rootCmd.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&cli.noColor, "no-color", false, "Disable coloured output")

	rootCmd.AddCommand(newRunCommand(cli))
	rootCmd.AddCommand(newTasksCommand(cli))
	rootCmd.AddCommand(newDevicesCommand(cli))
	rootCmd.AddCommand(newScreenshotCommand(cli))
	rootCmd.AddCommand(newMatchCommand(cli))
	rootCmd.AddCommand(newConfigCommand(cli))
	closeAfterRun(rootCmd, cli)

	return rootCmd
}

// closeAfterRun makes every command release log files and flush the event
// log, whether it succeeds or fails.
func closeAfterRun(cmd *cobra.Command, cli *CLI) {
	if run := cmd.RunE; run != nil {
		cmd.RunE = func(cmd *cobra.Command, a []string) error {
			defer cli.close()
			return run(cmd, a)
		}
	}
	for _, c := range cmd.Commands() {
		closeAfterRun(c, cli)
	}
}

// args wraps a cobra positional-args validator so its failures map to the
// usage exit code.
func args(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := v(cmd, a); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// initialize loads the config, writing the default one on first run, and
// sets up console and file logging.
func (cli *CLI) initialize() error {
	cfg, err := config.Load(cli.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		if werr := writeDefault(cli.configPath); werr != nil {
			return &config.ConfigError{Path: cli.configPath, Err: werr}
		}
		fmt.Fprintf(os.Stderr, "%s wrote default config to %s\n", yellow("note:"), cli.configPath)
		cfg, err = config.Load(cli.configPath)
	}
	if err != nil {
		return err
	}
	cli.config = cfg
	return cli.setupLogging()
}

func (cli *CLI) setupLogging() error {
	level, err := logging.ParseLevel(cli.config.Log.Level)
	if err != nil {
		return &config.ConfigError{Path: cli.configPath, Err: err}
	}
	if cli.verbose {
		level = logging.LogLevelDebug
	}
	mode := cli.config.Log.Color
	if cli.noColor {
		mode = "never"
	}

	cli.log = logging.NewLogger("yys").
		SetMinLevel(level).
		SetOutput(os.Stdout, logging.ConsoleFormatter(os.Stdout, mode))

	if cli.config.Log.File {
		f, err := logging.OpenLogFile(cli.config.Log.Dir, "yys")
		if err != nil {
			return err
		}
		cli.logFile = f
		cli.log.AddOutput(f, &logging.TextFormatter{})

		cli.events = events.NewEventBus(256)
		el, err := logging.NewEventLogger(cli.events, cli.config.Log.Dir)
		if err != nil {
			return err
		}
		cli.eventLogger = el
	}
	return nil
}

func (cli *CLI) close() {
	if cli.events != nil {
		cli.events.Stop()
		cli.events = nil
	}
	if cli.eventLogger != nil {
		cli.eventLogger.Close()
		cli.eventLogger = nil
	}
	if cli.logFile != nil {
		cli.logFile.Close()
		cli.logFile = nil
	}
}

// newBot builds a bot with its assets loaded. It does not connect.
func (cli *CLI) newBot() (*bot.Bot, error) {
	opts := []bot.Option{bot.WithLogger(cli.log)}
	if cli.events != nil {
		opts = append(opts, bot.WithEventBus(cli.events))
	}
	b := bot.New(cli.config, opts...)
	if err := b.LoadAssets(); err != nil {
		return nil, err
	}
	return b, nil
}

func newRunCommand(cli *CLI) *cobra.Command {
	var (
		dryRun    bool
		target    deviceFlags
		maxRounds int
	)
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task script until it finishes",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, a []string) error {
			if maxRounds < 0 {
				return &usageError{err: fmt.Errorf("--max-rounds must be >= 0, got %d", maxRounds)}
			}
			if err := target.validate(); err != nil {
				return err
			}
			if err := cli.initialize(); err != nil {
				return err
			}
			if err := target.apply(cli.config); err != nil {
				return err
			}

			b, err := cli.newBot()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := b.Connect(ctx); err != nil {
				return err
			}
			defer b.Disconnect(ctx)

			res, err := b.RunTask(ctx, a[0], bot.RunOptions{DryRun: dryRun, MaxRounds: maxRounds})
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "%s %s finished in %s (%s, %d rounds, %d actions)\n",
				green("✓"), bold(res.Task), res.Duration.Round(time.Second), res.Reason, res.Rounds, len(res.Actions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Capture and match but send no input")
	target.register(cmd)
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "Stop after this many rounds (0 = script limit)")
	return cmd
}

func newTasksCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List task scripts",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, a []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			b := bot.New(cli.config, bot.WithLogger(cli.log))
			if err := b.LoadTasks(); err != nil {
				return err
			}
			scripts := b.Tasks()
			if len(scripts) == 0 {
				fmt.Fprintf(cli.out, "%s no tasks in %s\n", yellow("!"), cli.config.Tasks.Dir)
				return nil
			}
			for _, s := range scripts {
				fmt.Fprintf(cli.out, "%-20s %s %s\n", cyan(s.Name), gray("["+string(s.Initial)+"]"), s.Description)
			}
			return nil
		},
	}
}

func newDevicesCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices visible to adb",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, a []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			devices, err := bot.New(cli.config, bot.WithLogger(cli.log)).Devices(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintf(cli.out, "%s no devices attached\n", yellow("!"))
				return nil
			}
			names := mumuNames(cli.config.ADB.Path)
			for _, d := range devices {
				state := red(d.State)
				if d.Online() {
					state = green(d.State)
				}
				marker := " "
				if d.Serial == cli.config.ADB.Serial {
					marker = "*"
				}
				label := ""
				if i, ok := emulator.MuMuIndex(d.Serial); ok {
					label = gray(fmt.Sprintf("MuMu #%d %s", i, names[i]))
				}
				fmt.Fprintf(cli.out, "%s %-24s %-12s %s\n", marker, d.Serial, state, label)
			}
			return nil
		},
	}
}

func newScreenshotCommand(cli *CLI) *cobra.Command {
	var target deviceFlags
	cmd := &cobra.Command{
		Use:   "screenshot <out.png>",
		Short: "Save one frame from the device",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, a []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			if err := cli.initialize(); err != nil {
				return err
			}
			if err := target.apply(cli.config); err != nil {
				return err
			}
			b := bot.New(cli.config, bot.WithLogger(cli.log))
			ctx := cmd.Context()
			if err := b.Connect(ctx); err != nil {
				return err
			}
			defer b.Disconnect(ctx)

			img, err := b.Screenshot(ctx)
			if err != nil {
				return err
			}
			if err := writePNG(a[0], img); err != nil {
				return err
			}
			size := img.Bounds().Size()
			fmt.Fprintf(cli.out, "%s saved %dx%d frame to %s\n", green("✓"), size.X, size.Y, a[0])
			return nil
		},
	}
	target.register(cmd)
	return cmd
}

func newMatchCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "match <frame.png> <template>",
		Short: "Score a template against a saved frame",
		Args:  args(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, a []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			frame, err := readImage(a[0])
			if err != nil {
				return err
			}
			b := bot.New(cli.config, bot.WithLogger(cli.log))
			if err := b.LoadTemplates(); err != nil {
				return err
			}
			res, tpl, err := b.MatchImage(frame, a[1])
			if err != nil {
				return &usageError{err: err}
			}

			verdict := red("no match")
			if res.Confidence >= tpl.Threshold {
				verdict = green("match")
			}
			fmt.Fprintf(cli.out, "%s: %s confidence=%.4f threshold=%.2f at (%d,%d) box=%v\n",
				cyan(tpl.Name), verdict, res.Confidence, tpl.Threshold,
				res.Location.X, res.Location.Y, res.Box)
			return nil
		},
	}
}

func newConfigCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default config",
		Args:  args(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, a []string) error {
			path := cli.configPath
			if len(a) == 1 {
				path = a[0]
			}
			if err := writeDefault(path); err != nil {
				return &config.ConfigError{Path: path, Err: err}
			}
			fmt.Fprintf(cli.out, "%s wrote %s\n", green("✓"), path)
			return nil
		},
	})
	return cmd
}

// writeDefault writes the default config in the format the extension asks
// for. An existing file is never overwritten.
func writeDefault(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".ini") {
		return config.WriteDefault(path)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return config.SaveToINI(config.Default(), path)
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &usageError{err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &usageError{err: fmt.Errorf("failed to decode %s: %w", path, err)}
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// deviceFlags pick the device for commands that connect.
type deviceFlags struct {
	serial   string
	instance int
}

func (f *deviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.serial, "serial", "", "Device serial, overrides adb.serial")
	cmd.Flags().IntVar(&f.instance, "instance", -1, "MuMu instance index, e.g. 1 for 127.0.0.1:16416")
}

// validate rejects flag combinations before any config or device is touched.
func (f *deviceFlags) validate() error {
	if f.instance < -1 {
		return &usageError{err: fmt.Errorf("--instance must be >= 0, got %d", f.instance)}
	}
	if f.serial != "" && f.instance >= 0 {
		return &usageError{err: errors.New("--serial and --instance cannot be used together")}
	}
	return nil
}

func (f *deviceFlags) apply(cfg *config.Config) error {
	if err := f.validate(); err != nil {
		return err
	}
	switch {
	case f.serial != "":
		cfg.ADB.Serial = f.serial
	case f.instance >= 0:
		cfg.ADB.Serial = emulator.MuMuSerial(f.instance)
	}
	return nil
}

// mumuNames maps MuMu instance indexes to their player names when adb.path
// points into a MuMu install.
func mumuNames(adbPath string) map[int]string {
	names := make(map[int]string)
	folder := emulator.MuMuFolder(adbPath)
	if folder == "" {
		return names
	}
	instances, err := emulator.ListMuMuInstances(folder)
	if err != nil {
		return names
	}
	for _, inst := range instances {
		names[inst.Index] = inst.PlayerName
	}
	return names
}
