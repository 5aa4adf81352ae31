package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/mohaanymo/cencdec"
	"github.com/mohaanymo/cencdec/internal/config"
	"github.com/mohaanymo/cencdec/internal/decryptor"
	"github.com/mohaanymo/cencdec/internal/engine"
	"github.com/mohaanymo/cencdec/internal/probe"
	"github.com/mohaanymo/cencdec/internal/tui"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

type Globals struct {
	Config     string           `short:"c" type:"existingfile" help:"YAML configuration file. Flags override its values."`
	Verbose    bool             `short:"v" help:"Verbose output."`
	NoProgress bool             `help:"Disable the progress UI."`
	Version    kong.VersionFlag `help:"Show version."`
}

var cli struct {
	Globals

	Decrypt decryptCmd `cmd:"" default:"withargs" help:"Decrypt a protected file (default command)."`
	Batch   batchCmd   `cmd:"" help:"Decrypt many files concurrently."`
	Info    infoCmd    `cmd:"" help:"Show the tracks and protection of a file."`
	Dump    dumpCmd    `cmd:"" help:"Print the box tree of a file."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("cencdec"),
		kong.Description("cencdec - decrypts fragmented MP4 protected with Common Encryption (cenc)."),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("cencdec %s (%s)", version, commit)},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// load returns the configuration file values, or the defaults.
func (g *Globals) load() (*config.Config, error) {
	if g.Config == "" {
		return config.New(), nil
	}
	return config.Load(g.Config)
}

func (g *Globals) progress(cfg *config.Config) bool {
	return !(g.NoProgress || cfg.NoProgress || g.Verbose || cfg.Verbose)
}

func (g *Globals) logger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case g.Verbose || cfg.Verbose:
		level = zerolog.DebugLevel
	case g.progress(cfg):
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// KeyFlags are shared by the decrypting commands.
type KeyFlags struct {
	Key            string `short:"k" placeholder:"[KID:]KEY" help:"Content key as 32 hex chars, optionally prefixed by the key ID."`
	OutputDir      string `short:"d" type:"path" help:"Directory for output files (default: next to the input)."`
	Suffix         string `help:"Suffix added to the input name to derive the output name (default: _decrypted)."`
	Verify         bool   `help:"Re-parse the output and fail if a track is still encrypted."`
	PerTrackFormat bool   `help:"Restore each encrypted sample entry from its own original format box."`
}

func (f *KeyFlags) apply(cfg *config.Config) {
	if f.Key != "" {
		cfg.Key = f.Key
	}
	if f.OutputDir != "" {
		cfg.OutputDir = f.OutputDir
	}
	if f.Suffix != "" {
		cfg.Suffix = f.Suffix
	}
	cfg.Verify = cfg.Verify || f.Verify
	cfg.PerTrackFormat = cfg.PerTrackFormat || f.PerTrackFormat
}

type decryptCmd struct {
	Input  string `arg:"" optional:"" type:"existingfile" help:"Protected input file."`
	Output string `short:"o" type:"path" help:"Output file path."`
	KeyFlags
}

func (c *decryptCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Input != "" {
		cfg.Input = c.Input
	}
	if c.Output != "" {
		cfg.Output = c.Output
	}
	c.apply(cfg)

	log := g.logger(cfg)
	eng, err := engine.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var stats decryptor.Stats
	if !g.progress(cfg) {
		stats, err = eng.Run(ctx)
		if err != nil {
			return err
		}
	} else {
		stats, err = runWithUI(ctx, cancel, eng, cfg, log)
		if err != nil {
			return err
		}
	}

	fmt.Printf("\n✓ Saved to: %s\n", eng.OutputPath())
	fmt.Printf("  %d fragments, %d samples, %s decrypted, %d sample entries restored\n",
		stats.Fragments, stats.Samples, bytefmt.ByteSize(uint64(stats.DecryptedBytes)), stats.PatchedEntries)
	return nil
}

func runWithUI(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, cfg *config.Config, log zerolog.Logger) (decryptor.Stats, error) {
	rep, err := probe.InspectFile(cfg.Input)
	if err != nil {
		log.Warn().Err(err).Msg("inspect input")
		rep = &probe.Report{}
	}

	model := tui.NewModel(eng.Progress(), cfg, rep.Tracks)
	p := tea.NewProgram(model, tea.WithAltScreen())

	var stats decryptor.Stats
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		stats, runErr = eng.Run(ctx)
		if runErr != nil {
			p.Send(tui.ErrorMsg{Err: runErr})
		}
	}()

	_, err = p.Run()
	// Quitting the UI early cancels the run.
	cancel()
	<-done

	if err != nil {
		return stats, fmt.Errorf("TUI error: %w", err)
	}
	return stats, runErr
}

type batchCmd struct {
	Inputs        []string `arg:"" type:"existingfile" help:"Protected input files."`
	MaxConcurrent int      `short:"n" help:"Files decrypted concurrently (default: 2)."`
	Title         string   `help:"Title shown by the progress UI."`
	KeyFlags
}

func (c *batchCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	c.apply(cfg)
	if c.MaxConcurrent > 0 {
		cfg.MaxConcurrent = c.MaxConcurrent
	}
	if cfg.Key == "" {
		return config.ErrMissingKey
	}
	if err := decryptor.ValidateKey(cfg.Key); err != nil {
		return err
	}

	log := g.logger(cfg)
	m := cencdec.NewManager(
		cencdec.WithTitle(c.Title),
		cencdec.WithMaxConcurrent(cfg.MaxConcurrent),
		cencdec.WithDefaultOptions(
			cencdec.WithKey(cfg.Key),
			cencdec.WithOutputDir(cfg.OutputDir),
			cencdec.WithSuffix(cfg.Suffix),
			cencdec.WithVerify(cfg.Verify),
			cencdec.WithPerTrackFormat(cfg.PerTrackFormat),
			cencdec.WithLogger(log),
		),
		cencdec.WithOnComplete(func(t *cencdec.Task) {
			log.Info().Str("input", t.Input).Str("output", t.Output).Int("samples", t.Stats.Samples).Msg("completed")
		}),
		cencdec.WithOnError(func(t *cencdec.Task, err error) {
			log.Error().Str("input", t.Input).Err(err).Msg("failed")
		}),
	)
	m.Start()
	defer m.Stop()

	for _, in := range c.Inputs {
		if _, err := m.AddTask(in, in); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		m.Stop()
	}()

	if g.progress(cfg) {
		ui := cencdec.NewManagerUI(m)
		go func() {
			m.WaitAll()
			ui.Quit()
		}()
		if err := ui.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		m.Stop()
	}
	m.WaitAll()

	stats := m.Stats()
	fmt.Printf("\n%d completed, %d failed, %d canceled\n", stats.Completed, stats.Failed, stats.Canceled)
	if stats.Completed != stats.Total {
		return fmt.Errorf("%d of %d files not decrypted", stats.Total-stats.Completed, stats.Total)
	}
	return nil
}

type infoCmd struct {
	Input string `arg:"" type:"existingfile" help:"File to inspect."`
}

func (c *infoCmd) Run(_ *Globals) error {
	rep, err := probe.InspectFile(c.Input)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", c.Input)
	fmt.Printf("  brand: %s  fragmented: %v  fragments: %d\n", rep.MajorBrand, rep.Fragmented, rep.Fragments)
	for i := range rep.Tracks {
		t := &rep.Tracks[i]
		state := "clear"
		if t.Protected() {
			state = fmt.Sprintf("encrypted, %d-byte IVs", t.IVSize)
		}
		fmt.Printf("  %s [%s]\n", t, state)
	}
	return nil
}

type dumpCmd struct {
	Input string `arg:"" type:"existingfile" help:"File to dump."`
}

func (c *dumpCmd) Run(_ *Globals) error {
	f, err := os.Open(c.Input)
	if err != nil {
		return err
	}
	defer f.Close()

	return probe.Dump(f, os.Stdout)
}
