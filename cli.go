package idechat

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/mux"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/idechat/catalog"
	"github.com/stevegt/idechat/editor"
	"github.com/stevegt/idechat/fetcher"
	"github.com/stevegt/idechat/prefs"
	"github.com/stevegt/idechat/render"
	"github.com/stevegt/idechat/widget"
)

// cmdServe is the serve subcommand.
type cmdServe struct {
	Listen string   `short:"l" default:":8080" help:"Address to listen on."`
	Prefix string   `default:"" help:"URL path prefix for the chat panel, e.g. /chat."`
	Files  []string `arg:"" optional:"" help:"Files to open in the editor before serving."`
}

// cmdAsk is the ask subcommand.
type cmdAsk struct {
	Model    string   `short:"m" help:"Model id; defaults to the preferred model."`
	Question string   `arg:"" help:"Question to ask."`
	Files    []string `arg:"" optional:"" help:"Files sent as the active code."`
}

// cli is the command line grammar.
type cli struct {
	APIKey     string        `name:"api-key" env:"OPENROUTER_API_KEY" help:"API key for the completion endpoint."`
	BaseURL    string        `name:"base-url" env:"IDECHAT_BASE_URL" default:"${baseURL}" help:"Completion API root."`
	Referer    string        `default:"${referer}" help:"HTTP-Referer header sent to the API."`
	Title      string        `default:"${title}" help:"X-Title header sent to the API."`
	Timeout    time.Duration `default:"60s" help:"Timeout for one API call."`
	MaxRetries int           `name:"max-retries" default:"${maxRetries}" help:"Retries after an empty reply."`
	RetryDelay time.Duration `name:"retry-delay" default:"${retryDelay}" help:"Pause before each retry."`
	Db         string        `env:"IDECHAT_DB" default:"~/.idechat.db" type:"path" help:"Preferences database."`
	Config     string        `help:"TOML config file." default:"${configFile}"`
	Verbose    bool          `short:"v" help:"Show debug information on stderr."`

	Serve  cmdServe `cmd:"" help:"Serve the chat panel over HTTP."`
	Ask    cmdAsk   `cmd:"" help:"Ask a question about the given files and print the reply."`
	Models struct{} `cmd:"" help:"List available models; * marks the preferred one."`
	Model  struct {
		Model string `arg:"" help:"Model to switch to."`
	} `cmd:"" help:"Set the preferred model."`
	Prompt struct {
		Model string `arg:"" optional:"" help:"Model id; defaults to the preferred model."`
	} `cmd:"" help:"Show the system prompt sent for a model."`
	Tc      struct{} `cmd:"" help:"Calculate the token count of stdin."`
	Version struct{} `cmd:"" help:"Show version of idechat and its database."`
}

// Config contains the configuration for the idechat cli.
type Config struct {
	// Name is the name of the program
	Name string
	// Description is a short description of the program
	Description string
	// Version is the version of the program
	Version string
	// Exit is the function to call to exit the program
	Exit   func(int)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Shutdown, if not nil, stops serve when closed.  serve also
	// stops on SIGINT or SIGTERM.
	Shutdown <-chan struct{}
}

// NewConfig returns a new Config struct with default values populated
func NewConfig() *Config {
	return &Config{
		Name:        "idechat",
		Description: "An AI chat panel for a code editor, backed by an OpenAI-compatible completion API.",
		Version:     CodeVersion(),
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Cli parses the given arguments and then executes the appropriate
// subcommand.
func Cli(args []string, config *Config) (rc int, err error) {
	defer Return(&err)

	cfgFile := DefaultConfigFile
	if path, ok := configPath(args); ok {
		cfgFile = path
	}

	options := []kong.Option{
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{
			"version":    config.Version,
			"baseURL":    fetcher.DefaultBaseURL,
			"referer":    fetcher.DefaultReferer,
			"title":      fetcher.DefaultTitle,
			"maxRetries": Spf("%d", fetcher.MaxRetries),
			"retryDelay": fetcher.RetryDelay.String(),
			"configFile": cfgFile,
		},
		kong.Configuration(TOML, cfgFile),
	}

	var c cli
	var parser *kong.Kong
	parser, err = kong.New(&c, options...)
	Ck(err)
	ctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	if err != nil {
		// only reached when config.Exit returns
		rc = 1
		err = nil
		return
	}

	if c.Verbose {
		os.Setenv("DEBUG", "1")
	}
	Debug("ctx: %+v", ctx)

	cmd := strings.Split(ctx.Command(), " ")[0]
	cat := catalog.New()

	switch cmd {
	case "prompt":
		id := c.Prompt.Model
		if id == "" {
			id, err = preferredModel(c.Db, cat)
			Ck(err)
		}
		Fpf(config.Stdout, "%s\n", catalog.SystemPrompt(id))
		return
	case "tc":
		var buf []byte
		buf, err = io.ReadAll(config.Stdin)
		Ck(err)
		var count int
		count, err = fetcher.TokenCount(strings.TrimSpace(string(buf)))
		Ck(err)
		Fpf(config.Stdout, "%d\n", count)
		return
	}

	// the remaining commands use the preferences db
	store, err := prefs.Open(c.Db)
	Ck(err)
	defer store.Close()

	switch cmd {
	case "models":
		pref, _, err := store.PreferredModel(cat)
		Ck(err)
		if pref == "" {
			pref = cat.Default().ID
		}
		for _, m := range cat.Models() {
			mark := " "
			if m.ID == pref {
				mark = "*"
			}
			Fpf(config.Stdout, "%s %s\n", mark, m)
		}
	case "model":
		err = store.SetPreferredModel(cat, c.Model.Model)
		if err != nil {
			Fpf(config.Stderr, "Error: %v\n", err)
			rc = 1
			err = nil
			return
		}
		m, err := cat.Find(c.Model.Model)
		Ck(err)
		Fpf(config.Stdout, "%s\n", catalog.SwitchMessage(m))
	case "version":
		Fpf(config.Stdout, "idechat version %s\n", config.Version)
		schema, err := store.DBVersion()
		Ck(err)
		Fpf(config.Stdout, "idechat db version %s\n", schema)
	case "ask":
		modelID := c.Ask.Model
		if modelID == "" {
			modelID, _, err = store.PreferredModel(cat)
			Ck(err)
		}
		bufs := editor.NewBuffers()
		err = bufs.LoadFiles(c.Ask.Files...)
		Ck(err)
		f := fetcher.New(c.fetcherConfig())
		reply := f.FetchReply(context.Background(), strings.TrimSpace(c.Ask.Question), modelID, bufs.Snapshot())
		Fpf(config.Stdout, "%s\n", reply.Text)
		if reply.IsError {
			rc = 1
		}
	case "serve":
		err = serve(config, &c, cat, store)
		Ck(err)
	default:
		Fpf(config.Stderr, "Error: unrecognized command: %s\n", ctx.Command())
		rc = 1
		return
	}

	return
}

func (c *cli) fetcherConfig() fetcher.Config {
	if c.APIKey == "" {
		log.Printf("warning: no API key; set OPENROUTER_API_KEY or --api-key")
	}
	return fetcher.Config{
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Referer:    c.Referer,
		Title:      c.Title,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
		Timeout:    c.Timeout,
	}
}

// preferredModel reads the stored model, else the default.
func preferredModel(dbPath string, cat *catalog.Catalog) (id string, err error) {
	defer Return(&err)
	id = catalog.DefaultModel
	_, err = os.Stat(dbPath)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
		return
	}
	Ck(err)
	store, err := prefs.Open(dbPath)
	Ck(err)
	defer store.Close()
	pref, ok, err := store.PreferredModel(cat)
	Ck(err)
	if ok {
		id = pref
	}
	return
}

// serve runs the chat panel until a signal arrives or
// config.Shutdown is closed.
func serve(config *Config, c *cli, cat *catalog.Catalog, store *prefs.Store) (err error) {
	defer Return(&err)

	bufs := editor.NewBuffers()
	err = bufs.LoadFiles(c.Serve.Files...)
	Ck(err)

	w := widget.New(widget.Options{
		Catalog:  cat,
		Fetcher:  fetcher.New(c.fetcherConfig()),
		Renderer: render.New(render.GoldmarkMarkdown),
		Prefs:    store,
		Editor:   bufs,
	})
	defer w.Close()

	r := mux.NewRouter()
	w.Register(r, c.Serve.Prefix)
	srv := &http.Server{Addr: c.Serve.Listen, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-ctx.Done():
		case <-config.Shutdown:
		}
		log.Printf("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Printf("error shutting down server: %v", err)
		}
	}()

	log.Printf("serving chat panel on %s%s/", c.Serve.Listen, strings.TrimSuffix(c.Serve.Prefix, "/"))
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return
}
