package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"productsearch/internal/app"
	"productsearch/internal/authclient"
	"productsearch/internal/config"
	"productsearch/internal/normalize"
	"productsearch/internal/util"
	"productsearch/pkg/domain"
	"productsearch/pkg/journal"
	"productsearch/pkg/kv"
	"productsearch/pkg/storage"
)

const usage = `usage: shopsearch [-config path] <command> [flags]

commands:
  signup        register an account
  login         log in and remember the session
  logout        forget the session
  status        show login state and backend health
  search        text search: search [-category c] [-limit n] <query>
  image-search  image search: image-search [-category c] [-limit n] <image file>
  upload        upload product JSON arrays: upload <file|s3://key>...
  history       list recent searches
`

type command func(ctx context.Context, env *cliEnv, args []string) error

var commands = map[string]command{
	"signup":       runSignup,
	"login":        runLogin,
	"logout":       runLogout,
	"status":       runStatus,
	"search":       runSearch,
	"image-search": runImageSearch,
	"upload":       runUpload,
	"history":      runHistory,
}

type cliEnv struct {
	app    *app.App
	cfg    config.FileConfig
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("shopsearch", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", config.ConfigPath, "config file path")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", rest[0], usage)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	util.InitLoggerTo(stderr, cfg.LogLevel)

	core, err := buildApp(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "failed to init client: %v\n", err)
		return 1
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	core.Restore(ctx)

	env := &cliEnv{app: core, cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}
	if err := cmd(ctx, env, rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func buildApp(cfg config.FileConfig, stderr io.Writer) (*app.App, error) {
	var sessions kv.Store
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		sessions = kv.NewMemoryStore()
	case "redis":
		sessions = kv.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.KeyPrefix)
	default:
		fs, err := kv.NewFileStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("init session storage: %w", err)
		}
		sessions = fs
	}

	var journalStore journal.Store
	if cfg.Journal.Driver != "" {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		journalStore = j
	}

	var objects storage.ObjectSource
	if cfg.ObjectStore.Endpoint != "" {
		store, err := storage.NewMinioStore(cfg.ObjectStore.Endpoint, cfg.ObjectStore.AccessKey, cfg.ObjectStore.SecretKey, cfg.ObjectStore.Bucket, cfg.ObjectStore.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		objects = store
	}

	return app.New(app.Config{
		BackendURL:        cfg.BackendURL,
		HTTPTimeout:       cfg.Timeout(),
		PlaceholderBase:   cfg.PlaceholderImageBase,
		UploadConcurrency: cfg.UploadConcurrency,
		Storage:           sessions,
		Journal:           journalStore,
		Objects:           objects,
		Notifier: authclient.NotifierFunc(func(s domain.Status) {
			fmt.Fprintln(stderr, s)
		}),
	})
}

func newFlagSet(env *cliEnv, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func runSignup(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "signup")
	username := fs.String("username", "", "account username")
	email := fs.String("email", "", "account email (defaults to username)")
	passwordStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readPassword(env, *passwordStdin)
	if err != nil {
		return err
	}
	if *username == "" {
		return errors.New("signup: -username is required")
	}
	if err := env.app.Signup(ctx, domain.SignupRequest{Username: *username, Email: *email, Password: password}); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Account %s created. Log in to continue.\n", *username)
	return nil
}

func runLogin(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "login")
	username := fs.String("username", "", "account username")
	passwordStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readPassword(env, *passwordStdin)
	if err != nil {
		return err
	}
	if *username == "" {
		return errors.New("login: -username is required")
	}
	session, err := env.app.Login(ctx, *username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Logged in as %s\n", session.User.Username)
	return nil
}

func runLogout(ctx context.Context, env *cliEnv, args []string) error {
	env.app.Logout(ctx)
	return nil
}

func runStatus(ctx context.Context, env *cliEnv, args []string) error {
	if session, ok := env.app.Session(); ok {
		fmt.Fprintf(env.stdout, "logged in: %s\n", session.User.Username)
	} else {
		fmt.Fprintln(env.stdout, "logged in: no")
	}
	health, err := env.app.Health(ctx)
	if err != nil {
		fmt.Fprintf(env.stdout, "backend: unavailable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(env.stdout, "backend: %s\n", health)
	return nil
}

func runSearch(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "search")
	category := fs.String("category", "", "restrict to a category")
	limit := fs.Int("limit", env.cfg.DefaultLimit, "maximum results")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req := domain.SearchRequest{Text: strings.Join(fs.Args(), " "), Category: *category, Limit: *limit}
	return search(ctx, env, req, *asJSON)
}

func runImageSearch(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "image-search")
	category := fs.String("category", "", "restrict to a category")
	limit := fs.Int("limit", env.cfg.DefaultLimit, "maximum results")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("image-search: exactly one image file is required")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("image %s is empty", fs.Arg(0))
	}
	req := domain.SearchRequest{ImageData: data, Category: *category, Limit: *limit}
	return search(ctx, env, req, *asJSON)
}

func search(ctx context.Context, env *cliEnv, req domain.SearchRequest, asJSON bool) error {
	result, err := env.app.Search(ctx, req)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(env.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(env.stdout, "%d result(s)\n", result.Count)
	for i, p := range result.Results {
		line := fmt.Sprintf("%2d. %s", i+1, p.Name)
		if p.Category != "" {
			line += " [" + p.Category + "]"
		}
		line += "  price: " + p.Price.String()
		if p.SimilarityScore != nil {
			line += "  match: " + normalize.FormatSimilarity(p.SimilarityScore)
		}
		fmt.Fprintln(env.stdout, line)
		if p.Description != "" {
			fmt.Fprintf(env.stdout, "    %s\n", p.Description)
		}
		fmt.Fprintf(env.stdout, "    image: %s\n", abbreviate(p.ImageSource, 80))
	}
	return nil
}

func runUpload(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	results, err := env.app.UploadFiles(ctx, fs.Args())
	if err != nil {
		return err
	}
	total := 0
	for _, r := range results {
		total += r.InsertedCount
		fmt.Fprintf(env.stdout, "%s: %d product(s) inserted\n", r.Filename, r.InsertedCount)
	}
	fmt.Fprintf(env.stdout, "total: %d\n", total)
	return nil
}

func runHistory(ctx context.Context, env *cliEnv, args []string) error {
	fs := newFlagSet(env, "history")
	limit := fs.Int("limit", 20, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := env.app.History(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		query := e.Query
		if e.Mode == domain.ModeImage {
			query = "(image)"
		}
		fmt.Fprintf(env.stdout, "%s  %-5s  %-30s  %d result(s)\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Mode, query, e.ResultCount)
	}
	return nil
}

func readPassword(env *cliEnv, fromStdin bool) (string, error) {
	if v := os.Getenv("SHOPSEARCH_PASSWORD"); v != "" && !fromStdin {
		return v, nil
	}
	if !fromStdin {
		return "", errors.New("password required: use -password-stdin or SHOPSEARCH_PASSWORD")
	}
	line, err := bufio.NewReader(env.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is empty")
	}
	return password, nil
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
