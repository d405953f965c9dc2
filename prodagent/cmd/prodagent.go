// Command-line interface for the product assistant
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"prodagent/prodagent/app"
	"prodagent/prodagent/config"
	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/services/session"
	"prodagent/prodagent/services/vision"
	"prodagent/prodagent/sources/kv"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/color"
	"prodagent/prodagent/utils/jsonutils"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/scraper"
	"prodagent/prodagent/utils/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var noColor bool
	cfg := config.LoadConfig()

	root := &cobra.Command{
		Use:           "prodagent",
		Short:         "Product assistant: chat about a catalog model, index manuals, run the API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.Disable()
			}
			logging.InitLogger(cfg.LogDir)
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.AddCommand(serveCmd(&cfg), chatCmd(&cfg), indexCmd(&cfg), catalogCmd(&cfg))
	return root
}

func fail(err error) error {
	fmt.Fprintln(os.Stderr, color.ColorError("error: "+apperr.UserMessage(err)))
	return err
}

func serveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), *cfg)
			if err != nil {
				return fail(err)
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
}

func chatCmd(cfg *config.Config) *cobra.Command {
	var modelID, mode, language, sessionsFile string
	var reset bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat about one product model in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if modelID == "" {
				modelID = cfg.DefaultModelID
			}
			if modelID == "" {
				return fail(apperr.Validation("cli.chat", "Pass --model or set DEFAULT_MODEL_ID."))
			}
			if sessionsFile == "" {
				path, err := kv.DefaultFilePath()
				if err != nil {
					return fail(err)
				}
				sessionsFile = path
			}
			resolver := session.NewResolver(kv.NewFileStore(sessionsFile), nil)

			a, err := app.New(ctx, *cfg)
			if err != nil {
				return fail(err)
			}
			defer a.Close()

			r := &repl{app: a, resolver: resolver, modelID: modelID, mode: mode, language: language}
			if err := r.start(ctx, reset); err != nil {
				return fail(err)
			}
			return r.loop(ctx)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "catalog model id")
	cmd.Flags().StringVar(&mode, "mode", "", "PRE_PURCHASE or POST_PURCHASE (default: the conversation's mode)")
	cmd.Flags().StringVar(&language, "language", "", "reply language (en, hi)")
	cmd.Flags().StringVar(&sessionsFile, "sessions", "", "session file (default ~/.prodagent/sessions.yaml)")
	cmd.Flags().BoolVar(&reset, "reset", false, "start a new conversation for this model")
	return cmd
}

type repl struct {
	app       *app.App
	resolver  *session.Resolver
	modelID   string
	mode      string
	language  string
	sessionID string
}

func (r *repl) start(ctx context.Context, reset bool) error {
	rec, err := r.app.Catalog.GetModel(ctx, r.modelID)
	switch {
	case err == nil:
		fmt.Println(color.ColorInfo(fmt.Sprintf("Connected to the %s assistant for %s (%s).", r.app.Config.BrandName, rec.Product.Name, r.modelID)))
	case apperr.KindOf(err) == apperr.KindNotFound:
		fmt.Println(color.ColorWarning(fmt.Sprintf("%s is not in the catalog; answers will not include product facts.", r.modelID)))
	default:
		fmt.Println(color.ColorWarning("The catalog is unavailable right now."))
	}

	resolve := r.resolver.GetOrCreate
	if reset {
		resolve = r.resolver.Reset
	}
	id, degraded, err := resolve(ctx, r.modelID)
	if err != nil {
		return err
	}
	r.sessionID = id
	if degraded {
		fmt.Println(color.ColorWarning("Session storage is unavailable; this conversation will not be resumable."))
	}
	if hist := r.app.Agent.History(ctx, id); len(hist.Messages) > 0 {
		fmt.Println(color.ColorInfo(fmt.Sprintf("Resuming conversation %s (%d messages). Type /history to see it.", id, len(hist.Messages))))
	}
	fmt.Println("Commands: /mode PRE_PURCHASE|POST_PURCHASE, /image <path> [message], /history, /reset, exit")
	fmt.Println()
	return nil
}

func (r *repl) loop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.ColorPrompt("you> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Println("Goodbye!")
			return nil
		case strings.HasPrefix(line, "/"):
			r.command(ctx, line)
		default:
			r.send(ctx, types.ChatRequest{Message: line})
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) command(ctx context.Context, line string) {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/mode":
		resp, err := r.app.Agent.SwitchMode(ctx, types.ModeSwitchRequest{Mode: rest, SessionID: r.sessionID})
		if err != nil {
			fmt.Println(color.ColorError(apperr.UserMessage(err)))
			return
		}
		r.mode = string(resp.Mode)
		fmt.Println(color.ColorMode(string(resp.Mode)), resp.Message)
	case "/history":
		for _, t := range r.app.Agent.History(ctx, r.sessionID).Messages {
			text := t.Content
			if t.Failed() {
				text = color.ColorWarning(text)
			}
			fmt.Printf("%s %s: %s\n", color.ColorMode(string(t.Mode)), t.Role, text)
		}
	case "/reset":
		id, _, err := r.resolver.Reset(ctx, r.modelID)
		if err != nil {
			fmt.Println(color.ColorError(apperr.UserMessage(err)))
			return
		}
		r.sessionID = id
		fmt.Println(color.ColorInfo("Started a new conversation."))
	case "/image":
		path, message, _ := strings.Cut(rest, " ")
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Println(color.ColorError("Could not read " + path))
			return
		}
		images, err := vision.Validate([]vision.Upload{{Filename: filepath.Base(path), Data: data}},
			vision.Limits{MaxCount: r.app.Config.MaxImages, MaxBytes: r.app.Config.MaxImageBytes})
		if err != nil {
			fmt.Println(color.ColorError(apperr.UserMessage(err)))
			return
		}
		r.send(ctx, types.ChatRequest{Message: strings.TrimSpace(message), Images: images})
	default:
		fmt.Println(color.ColorWarning("Unknown command " + name))
	}
}

func (r *repl) send(ctx context.Context, req types.ChatRequest) {
	req.ModelID = r.modelID
	req.SessionID = r.sessionID
	req.Mode = r.mode
	req.Language = r.language

	fmt.Print(color.ColorPrompt("assistant> "))
	resp, err := r.app.Agent.ChatStream(ctx, req, func(chunk string) error {
		fmt.Print(color.ColorReply(chunk))
		return nil
	})
	fmt.Println()
	if err != nil {
		if resp != nil && resp.Error {
			fmt.Println(color.ColorError(resp.Response))
		} else {
			fmt.Println(color.ColorError(apperr.UserMessage(err)))
		}
		return
	}
	if !resp.Persisted {
		fmt.Println(color.ColorWarning("(this message could not be saved)"))
	}
	if len(resp.Suggestions) > 0 {
		fmt.Println(color.ColorSuggestion("Try: " + strings.Join(resp.Suggestions, " | ")))
	}
	fmt.Println()
}

func indexCmd(cfg *config.Config) *cobra.Command {
	var htmlFile, manualURL string

	cmd := &cobra.Command{
		Use:   "index [model_id...]",
		Short: "Embed product documentation into the retrieval index",
		Long: "Indexes the catalog documentation of the given models, or of every model when none are given.\n" +
			"--html or --url add the sections of an HTML manual to a single model.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, *cfg)
			if err != nil {
				return fail(err)
			}
			defer a.Close()

			if htmlFile == "" && manualURL == "" {
				counts, err := a.IndexCatalog(ctx, args...)
				if err != nil {
					return fail(err)
				}
				stored, err := a.IndexedChunks(ctx, args...)
				if err != nil {
					return fail(err)
				}
				ids := make([]string, 0, len(counts))
				for id := range counts {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Println(color.ColorInfo(fmt.Sprintf("%s: %d chunks indexed, %d stored", id, counts[id], stored[id])))
				}
				return nil
			}

			if len(args) != 1 {
				return fail(apperr.Validation("cli.index", "--html and --url index exactly one model."))
			}
			if a.Indexer == nil {
				return fail(apperr.Validation("cli.index", "Set EMBEDDING_API_KEY or OPENAI_API_KEY to index documentation."))
			}
			rec, err := a.Catalog.GetModel(ctx, args[0])
			if err != nil {
				return fail(err)
			}
			sections, err := manualSections(ctx, htmlFile, manualURL)
			if err != nil {
				return fail(err)
			}
			n, err := a.Indexer.IndexRecord(ctx, *rec, sections)
			if err != nil {
				return fail(apperr.ProviderUnavailable("cli.index", err))
			}
			stored, err := a.Indexer.Stored(ctx, args[0])
			if err != nil {
				return fail(apperr.PersistenceUnavailable("cli.index", err))
			}
			fmt.Println(color.ColorInfo(fmt.Sprintf("%s: %d chunks (%d from the manual), %d stored", args[0], n, len(sections), stored)))
			return nil
		},
	}
	cmd.Flags().StringVar(&htmlFile, "html", "", "HTML manual file")
	cmd.Flags().StringVar(&manualURL, "url", "", "HTML manual URL")
	return cmd
}

func manualSections(ctx context.Context, htmlFile, manualURL string) ([]scraper.Section, error) {
	if manualURL != "" {
		return scraper.FetchManual(ctx, manualURL)
	}
	f, err := os.Open(htmlFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scraper.ChunkHTML(f, "text/html")
}

func catalogCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Inspect or publish the product catalog"}

	var key string
	push := &cobra.Command{
		Use:   "push <file>",
		Short: "Validate a catalog file and upload it to the object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fail(err)
			}
			doc, err := catalog.Parse(raw)
			if err != nil {
				return fail(apperr.New(apperr.KindValidation, "cli.catalog.push", "The catalog file is not valid: "+err.Error(), err))
			}
			if key == "" {
				key = cfg.CatalogObject
			}
			if key == "" {
				key = filepath.Base(args[0])
			}
			a, err := app.New(cmd.Context(), *cfg)
			if err != nil {
				return fail(err)
			}
			defer a.Close()
			if a.Storage == nil {
				return fail(apperr.Validation("cli.catalog.push", "Set MINIO_ENDPOINT and credentials to publish the catalog."))
			}
			if err := a.Storage.PutObjectBytes(cmd.Context(), key, raw, contentType(args[0])); err != nil {
				return fail(err)
			}
			fmt.Println(color.ColorInfo(fmt.Sprintf("Uploaded %d categories to %s/%s", len(doc), cfg.MinIOBucket, key)))
			return nil
		},
	}
	push.Flags().StringVar(&key, "key", "", "object key (default CATALOG_OBJECT or the file name)")

	show := &cobra.Command{
		Use:   "show [model_id]",
		Short: "Print the categories, or one model's record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := catalog.New(catalog.FileSource{Path: cfg.CatalogPath}, 0)
			if len(args) == 0 {
				categories, err := cat.Categories(cmd.Context())
				if err != nil {
					return fail(err)
				}
				fmt.Println(jsonutils.ToJSON(categories))
				return nil
			}
			rec, err := cat.GetModel(cmd.Context(), args[0])
			if err != nil {
				return fail(err)
			}
			fmt.Println(jsonutils.ToJSON(rec))
			return nil
		},
	}

	cmd.AddCommand(push, show)
	return cmd
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/json"
	}
}
