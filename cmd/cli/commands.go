package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/model"
	"github.com/and161185/consent-keeper/internal/render"
)

func parseFlags(fs *pflag.FlagSet, args []string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func needID(fs *pflag.FlagSet, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s needs --id", errUsage, fs.Name())
	}
	return nil
}

// writePDF stores doc as dir/consent-agreement-<id>.pdf and returns the path.
func writePDF(doc *render.Document, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, doc.FileName())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	if err := doc.WritePDF(f); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func cmdSeal(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	recPath := fs.String("record", "", "record JSON ('-' = stdin)")
	sig1 := fs.String("sig1", "", "party 1 signature image")
	sig2 := fs.String("sig2", "", "party 2 signature image")
	out := fs.String("out", ".", "directory for the PDF")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *recPath == "" {
		return fmt.Errorf("%w: seal needs --record", errUsage)
	}

	raw, err := readInput(e.stdin, *recPath)
	if err != nil {
		return err
	}
	var rec model.ConsentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("%w: record: %v", errs.ErrValidation, err)
	}
	sigs := rec.Signatures
	for _, s := range []struct {
		path string
		dst  *model.SignatureImage
	}{{*sig1, &sigs.Party1}, {*sig2, &sigs.Party2}} {
		if s.path == "" {
			continue
		}
		b, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("%w: signature: %v", errs.ErrValidation, err)
		}
		*s.dst = b
	}

	sealer, closeStore, err := newSealer(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := sealer.Seal(ctx, &rec, sigs)
	if err != nil && res.ID == "" {
		return err
	}
	result := struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		File string `json:"file,omitempty"`
	}{ID: res.ID, Key: res.Key}
	if err == nil {
		if result.File, err = writePDF(res.Document, *out); err != nil {
			err = fmt.Errorf("%w: %v", errs.ErrRender, err)
		}
	}
	// The key is printed even when the document failed: the record is stored.
	printJSON(e.stdout, result)
	fmt.Fprintln(e.stderr, "keep the key: it is not stored and cannot be recovered")
	return err
}

func cmdVerify(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	id := fs.String("id", "", "agreement id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := needID(fs, *id); err != nil {
		return err
	}
	sealer, closeStore, err := newSealer(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeStore()

	ok, err := sealer.Exists(ctx, *id)
	if err != nil {
		return err
	}
	printJSON(e.stdout, map[string]any{"id": *id, "exists": ok})
	if !ok {
		return errs.ErrNotFound
	}
	return nil
}

// revealed is the printed form of a record; signatures are reduced to sizes.
type revealed struct {
	ID               string                 `json:"id"`
	Date             string                 `json:"date"`
	Party1           model.Party            `json:"party1"`
	Party2           model.Party            `json:"party2"`
	ValidPeriod      model.ValidPeriod      `json:"validPeriod"`
	CustomTerms      string                 `json:"customTerms,omitempty"`
	Acknowledgements model.Acknowledgements `json:"acknowledgements"`
	SignatureBytes   [2]int                 `json:"signatureBytes"`
	File             string                 `json:"file,omitempty"`
}

func cmdReveal(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("reveal", pflag.ContinueOnError)
	id := fs.String("id", "", "agreement id")
	keyFile := fs.String("key-file", "", "file holding the key ('-' = stdin); prompts when empty")
	pdfDir := fs.String("pdf", "", "re-render the PDF into this directory")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := needID(fs, *id); err != nil {
		return err
	}
	key, err := readKey(e.stdin, e.stderr, *keyFile)
	if err != nil {
		return err
	}
	sealer, closeStore, err := newSealer(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := sealer.Reveal(ctx, *id, key)
	if err != nil {
		return err
	}
	view := revealed{
		ID: rec.ID, Date: rec.Date, Party1: rec.Party1, Party2: rec.Party2,
		ValidPeriod: rec.ValidPeriod, CustomTerms: rec.CustomTerms, Acknowledgements: rec.Acknowledgements,
		SignatureBytes: [2]int{len(rec.Signatures.Party1), len(rec.Signatures.Party2)},
	}
	if *pdfDir != "" {
		doc, err := sealer.Render(rec)
		if err != nil {
			return err
		}
		if view.File, err = writePDF(doc, *pdfDir); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrRender, err)
		}
	}
	printJSON(e.stdout, view)
	return nil
}

func cmdList(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	sealer, closeStore, err := newSealer(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeStore()

	list, err := sealer.List(ctx)
	if err != nil {
		return err
	}
	if list == nil {
		list = []model.ListEntry{}
	}
	printJSON(e.stdout, list)
	return nil
}

func cmdRemove(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("rm", pflag.ContinueOnError)
	id := fs.String("id", "", "agreement id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := needID(fs, *id); err != nil {
		return err
	}
	sealer, closeStore, err := newSealer(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer closeStore()

	ok, err := sealer.Delete(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotFound
	}
	fmt.Fprintln(e.stdout, "ok")
	return nil
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// readKey returns the key from keyFile, from stdin, or from an echo-free
// terminal prompt. Trailing newlines are stripped.
func readKey(stdin io.Reader, prompt io.Writer, keyFile string) (string, error) {
	var raw string
	switch {
	case keyFile != "" && keyFile != "-":
		b, err := os.ReadFile(keyFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", keyFile, err)
		}
		raw = string(b)
	case keyFile == "" && isTerminal(stdin):
		fd := int(stdin.(*os.File).Fd())
		fmt.Fprint(prompt, "Key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		raw = string(b)
	default:
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading key: %w", err)
		}
		raw = line
	}
	key := strings.TrimRight(raw, "\r\n")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", errs.ErrValidation)
	}
	return key, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
