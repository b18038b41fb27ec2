// accountctl manages the credential pool and caller API keys without going
// through the HTTP surface.
//
//	accountctl -config config.json add -name pool-1 -cookie <value>
//	accountctl -config config.json import accounts.txt
//	accountctl -config config.json list
//	accountctl -config config.json genkey -name ci
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"canvas-api/internal/config"
	"canvas-api/internal/middleware"
	"canvas-api/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config.json/config.yaml")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	s, err := store.New(store.Options{
		Mode:          cfg.StoreMode,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
		SQLitePath:    cfg.SQLitePath,
	})
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "add":
		cmdAdd(ctx, s, args[1:])
	case "list":
		cmdList(ctx, s)
	case "import":
		cmdImport(ctx, s, args[1:])
	case "genkey":
		cmdGenKey(ctx, s, args[1:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: accountctl [-config path] <add|list|import|genkey> [args]")
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdAdd(ctx context.Context, s *store.Store, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	name := fs.String("name", "", "Account name")
	cookie := fs.String("cookie", "", "Canvas client cookie")
	weight := fs.Int("weight", 1, "Load-balancing weight")
	fs.Parse(args)

	if *name == "" || *cookie == "" {
		fatalf("add: -name and -cookie are required")
	}

	acc := &store.Account{Name: *name, ClientCookie: *cookie, Weight: *weight, Enabled: true}
	if err := s.CreateAccount(ctx, acc); err != nil {
		fatalf("add: %v", err)
	}
	fmt.Printf("added account %d (%s)\n", acc.ID, acc.Name)
}

func cmdList(ctx context.Context, s *store.Store) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		fatalf("list: %v", err)
	}
	for _, acc := range accounts {
		state := "disabled"
		if acc.Enabled {
			state = "enabled"
		}
		fmt.Printf("%d\t%s\t%s\tweight=%d\trequests=%d\n", acc.ID, acc.Name, state, acc.Weight, acc.RequestCount)
	}
}

// cmdImport reads one account per line: a name, a cookie, and an optional
// trailing label. Lines follow shell quoting rules so cookies with spaces
// can be quoted.
func cmdImport(ctx context.Context, s *store.Store, args []string) {
	if len(args) != 1 {
		fatalf("import: exactly one file argument expected")
	}

	f, err := os.Open(args[0])
	if err != nil {
		fatalf("import: %v", err)
	}
	defer f.Close()

	imported := 0
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields, err := shellquote.Split(line)
		if err != nil {
			fatalf("import: line %d: %v", lineNo, err)
		}
		if len(fields) < 2 {
			fatalf("import: line %d: want \"name cookie [label ...]\"", lineNo)
		}

		name := fields[0]
		if len(fields) > 2 {
			name = name + " (" + strings.Join(fields[2:], " ") + ")"
		}
		acc := &store.Account{Name: name, ClientCookie: fields[1], Weight: 1, Enabled: true}
		if err := s.CreateAccount(ctx, acc); err != nil {
			fatalf("import: line %d: %v", lineNo, err)
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		fatalf("import: %v", err)
	}
	fmt.Printf("imported %d accounts\n", imported)
}

func cmdGenKey(ctx context.Context, s *store.Store, args []string) {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	name := fs.String("name", "", "Key name")
	fs.Parse(args)

	if *name == "" {
		fatalf("genkey: -name is required")
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		fatalf("genkey: %v", err)
	}
	plaintext := "sk-canvas-" + hex.EncodeToString(raw)

	key := &store.ApiKey{
		Name:      *name,
		KeyHash:   middleware.HashApiKey(plaintext),
		KeyPrefix: plaintext[:13],
		KeySuffix: plaintext[len(plaintext)-4:],
		Enabled:   true,
	}
	if err := s.CreateApiKey(ctx, key); err != nil {
		fatalf("genkey: %v", err)
	}

	// Printed once; only the hash is stored.
	fmt.Printf("api key %d (%s): %s\n", key.ID, key.Name, plaintext)
}
