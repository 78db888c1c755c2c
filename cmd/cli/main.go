// Command ck seals consent agreements into an encrypted local store and
// renders them as PDF.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/consent-keeper/internal/config"
	"github.com/and161185/consent-keeper/internal/errs"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// errUsage marks bad command-line input.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := rootContext()
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// rootContext is cancelled on interrupt. It carries no deadline: reveal may
// wait on a person typing the key.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *zap.Logger
	cfg    config.Config
}

func usage(w io.Writer) {
	fmt.Fprint(w, `ck: consent agreement keeper
Usage:
  ck [--config FILE] [--store file|postgres|redis] [--cipher NAME] [--font FILE] [-v] <cmd> [args]

Commands:
  version
  seal    --record rec.json [--sig1 a.png --sig2 b.png] [--out DIR]   (prints id and key once)
  verify  --id ID
  reveal  --id ID [--key-file F|-] [--pdf DIR]
  list
  rm      --id ID
`)
}

// run parses global flags, loads the configuration and dispatches cmd.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("ck", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	cfgPath := fs.String("config", "", "config file (default $XDG_CONFIG_HOME/consent-keeper/config.jsonc)")
	verbose := fs.BoolP("verbose", "v", false, "debug logging on stderr")
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		usage(stderr)
		return exitUsage
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return exitUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == "version" {
		fmt.Fprintf(stdout, "ck %s (%s)\n", version, buildDate)
		return exitOK
	}

	cfg, err := config.Load(*cfgPath, fs)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitUsage
	}
	e := &env{stdin: stdin, stdout: stdout, stderr: stderr, log: newLogger(stderr, *verbose), cfg: cfg}
	defer func() { _ = e.log.Sync() }()

	var handler func(context.Context, *env, []string) error
	switch cmd {
	case "seal":
		handler = cmdSeal
	case "verify":
		handler = cmdVerify
	case "reveal":
		handler = cmdReveal
	case "list":
		handler = cmdList
	case "rm":
		handler = cmdRemove
	default:
		usage(stderr)
		return exitUsage
	}
	if err := handler(ctx, e, rest); err != nil {
		return fail(stderr, err)
	}
	return exitOK
}

// newLogger writes human-readable logs to w, warnings and above unless verbose.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level))
}

// fail prints a message for err and returns the exit code.
func fail(w io.Writer, err error) int {
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(w, err)
		return exitUsage
	case errors.Is(err, errs.ErrValidation):
		fmt.Fprintln(w, "invalid input:", err)
	case errors.Is(err, errs.ErrNotFound):
		fmt.Fprintln(w, "no agreement with this id")
	case errors.Is(err, errs.ErrThrottled):
		fmt.Fprintln(w, "too many wrong keys for this id:", err)
	case errors.Is(err, errs.ErrDecryption):
		fmt.Fprintln(w, "wrong key or corrupted agreement")
	case errors.Is(err, errs.ErrRender):
		fmt.Fprintln(w, "document could not be rendered:", err)
	case errors.Is(err, errs.ErrGeneration):
		fmt.Fprintln(w, "secure random source unavailable")
	case errors.Is(err, errs.ErrEncryption):
		fmt.Fprintln(w, "encryption failed:", err)
	case errors.Is(err, errs.ErrStorage):
		fmt.Fprintln(w, "storage unavailable:", err)
	default:
		fmt.Fprintln(w, err)
	}
	return exitFailure
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
