// X1-Patcher: signature-driven bytecode patcher.
//
// Usage:
//
//	patcher resolve -i app.tar.zst -s signatures.toml
//	patcher apply   -i app.tar.zst -s signatures.toml -p patches.toml -o patched.tar.zst
//	patcher dump    -i app.tar.zst com/example/Main main '([Ljava/lang/String;)V'
//	patcher history --history-path runs.db
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Patcher/internal/config"
	"github.com/fortiblox/X1-Patcher/internal/logging"
	"github.com/fortiblox/X1-Patcher/pkg/classfile"
	"github.com/fortiblox/X1-Patcher/pkg/container"
	"github.com/fortiblox/X1-Patcher/pkg/history"
	"github.com/fortiblox/X1-Patcher/pkg/patch"
	"github.com/fortiblox/X1-Patcher/pkg/patcher"
	"github.com/fortiblox/X1-Patcher/pkg/signature"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// errPatchFailed makes apply exit non-zero after writing its report.
var errPatchFailed = errors.New("one or more patches failed")

type command struct {
	name    string
	summary string
	run     func(cfg *config.Config, log *zap.Logger, args []string, out io.Writer) error
}

var commands = []command{
	{"resolve", "print the method and start index each signature resolves to", runResolve},
	{"apply", "resolve, run patch scripts and write the output archive", runApply},
	{"dump", "disassemble one method: <class> <method> [descriptor]", runDump},
	{"history", "list recorded runs", runHistory},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "patcher: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "X1-Patcher %s (%s)\n\nUsage: patcher <command> [flags]\n\nCommands:\n", Version, GitCommit)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "\nRun 'patcher <command> --help' for flags.")
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("missing command")
	}
	switch args[0] {
	case "-h", "--help", "help":
		usage(out)
		return nil
	case "version", "--version":
		fmt.Fprintf(out, "X1-Patcher %s (%s)\n", Version, GitCommit)
		return nil
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage(out)
		return errors.Newf("unknown command %q", args[0])
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(out)
	config.Flags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	return cmd.run(cfg, log.Named(cmd.name), fs.Args(), out)
}

func loadInputs(cfg *config.Config) (*container.Archive, []*signature.Signature, error) {
	if cfg.Input == "" {
		return nil, nil, errors.New("--input is required")
	}
	if cfg.Signatures == "" {
		return nil, nil, errors.New("--signatures is required")
	}
	archive, err := container.Open(cfg.Input)
	if err != nil {
		return nil, nil, err
	}
	sigs, err := signature.LoadFile(cfg.Signatures)
	if err != nil {
		return nil, nil, err
	}
	return archive, sigs, nil
}

func runResolve(cfg *config.Config, log *zap.Logger, _ []string, out io.Writer) error {
	archive, sigs, err := loadInputs(cfg)
	if err != nil {
		return err
	}
	s, err := patcher.New(archive, sigs, patcher.WithLogger(log))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tMETHOD\tSTART\tFINGERPRINT")
	for _, sig := range sigs {
		m := s.Cache().MustLookup(sig.Name())
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", sig.Name(), m.Method.ID(), m.StartIndex, sig.Fingerprint())
	}
	return tw.Flush()
}

func runApply(cfg *config.Config, log *zap.Logger, _ []string, out io.Writer) error {
	if cfg.Output == "" {
		return errors.New("--output is required")
	}
	archive, sigs, err := loadInputs(cfg)
	if err != nil {
		return err
	}

	var scripts []patch.Script
	if cfg.Patches != "" {
		if scripts, err = patch.LoadScripts(cfg.Patches); err != nil {
			return err
		}
	}

	opts := []patcher.Option{
		patcher.WithLogger(log),
		patcher.WithContainerName(filepath.Base(cfg.Input)),
	}
	if cfg.History != nil {
		store, err := history.Open(*cfg.History)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, patcher.WithHistory(store))
	}

	s, err := patcher.New(archive, sigs, opts...)
	if err != nil {
		return err
	}
	for _, sc := range scripts {
		if err := s.RegisterPatch(sc.Unit()); err != nil {
			return err
		}
	}

	outcomes := s.Run()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATCH\tRESULT\tTOOK")
	for _, oc := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", oc.Name, oc.Result, oc.Duration.Round(time.Microsecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if err := s.ExportVia(container.FileWriter{Path: cfg.Output, Opts: cfg.Archive}); err != nil {
		return err
	}
	if failed := outcomes.Failed(); len(failed) > 0 {
		return errors.Wrapf(errPatchFailed, "%d of %d", len(failed), len(outcomes))
	}
	return nil
}

func runDump(cfg *config.Config, _ *zap.Logger, args []string, out io.Writer) error {
	if cfg.Input == "" {
		return errors.New("--input is required")
	}
	if len(args) < 2 {
		return errors.New("usage: dump <class> <method> [descriptor]")
	}
	archive, err := container.Open(cfg.Input)
	if err != nil {
		return err
	}
	c := archive.Class(args[0])
	if c == nil {
		return errors.Newf("class %s not found", args[0])
	}

	var found []*classfile.Method
	for _, m := range c.Methods {
		if m.Name == args[1] && (len(args) < 3 || m.Descriptor == args[2]) {
			found = append(found, m)
		}
	}
	if len(found) == 0 {
		return errors.Newf("method %s not found in %s", args[1], c.Name)
	}
	for _, m := range found {
		fmt.Fprintf(out, "%s\n", m)
		if !m.HasCode() {
			fmt.Fprintln(out, "  (no code)")
			continue
		}
		fmt.Fprint(out, m.Code)
	}
	return nil
}

func runHistory(cfg *config.Config, _ *zap.Logger, _ []string, out io.Writer) error {
	if cfg.History == nil {
		return errors.New("--history-path is required")
	}
	store, err := history.Open(*cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(20)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCONTAINER\tPATCHES\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.Started.Format(time.RFC3339), r.Container, len(r.Outcomes), r.Failed())
	}
	return tw.Flush()
}
