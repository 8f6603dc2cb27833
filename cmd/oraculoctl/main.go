// Command oraculoctl is a command-line client for the oraculo API.
//
// Usage:
//
//	oraculoctl [-url URL] [-key FILE] <command> [flags]
//
// Mutating commands sign requests with the ed25519 key in FILE, a base58
// seed written by `oraculoctl keygen`.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"oraculo/internal/api"
)

type command struct {
	usage string
	run   func(ctx context.Context, env *cliEnv, args []string) (any, error)
}

type cliEnv struct {
	url     string
	keyPath string
	timeout time.Duration
	client  *api.Client
}

// newClient loads the key lazily so read-only commands work without one.
func (e *cliEnv) newClient() *api.Client {
	if e.client != nil {
		return e.client
	}
	opts := []api.ClientOption{api.WithTimeout(e.timeout)}
	if key, err := readKey(e.keyPath); err == nil {
		opts = append(opts, api.WithKey(key))
	}
	e.client = api.NewClient(e.url, opts...)
	return e.client
}

func main() {
	url := flag.String("url", envOr("ORACULO_URL", "http://localhost:8080"), "API base URL")
	keyPath := flag.String("key", envOr("ORACULO_KEY", "oraculo.key"), "Signing key file")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	name, args := flag.Arg(0), flag.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	env := &cliEnv{url: *url, keyPath: *keyPath, timeout: *timeout}
	out, err := cmd.run(ctx, env, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if out != nil {
		if err := printJSON(os.Stdout, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: oraculoctl [-url URL] [-key FILE] <command> [flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", name, commands[name].usage)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// generateKey writes a new base58 seed to path. An existing file is never
// overwritten.
func generateKey(path string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, base58.Encode(priv.Seed())); err != nil {
		return nil, err
	}
	return priv, nil
}

var errBadKey = errors.New("key file must hold a base58 ed25519 seed")

func readKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := base58.Decode(strings.TrimSpace(string(data)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errBadKey
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
