package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/chat"
	"github.com/memorahq/memora/internal/config"
	"github.com/memorahq/memora/internal/errors"
	"github.com/memorahq/memora/internal/memora"
	"github.com/memorahq/memora/internal/store"
	"github.com/memorahq/memora/internal/users"
	"github.com/memorahq/memora/internal/web"
	"github.com/memorahq/memora/internal/wizard"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(client *api.Client, cache *store.Cache, tokens auth.TokenSource, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "memora",
		Usage:   "Client for the Memora digital persona service",
		Version: Version,
		Commands: []*cli.Command{
			listCmd(client),
			showCmd(client),
			statusCmd(client),
			syncCmd(cache),
			createCmd(client, cfg),
			uploadVideoCmd(client, cfg),
			uploadSocialCmd(client, cfg),
			retryCmd(client),
			sendCmd(client, tokens),
			historyCmd(client),
			searchUsersCmd(client, cfg),
			serveCmd(client, cache, tokens, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// listCmd creates the list command.
func listCmd(client *api.Client) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List personas (own by default, public chat-ready with --public)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "public", Usage: "List public personas open for chat instead of your own"},
		},
		Action: func(c *cli.Context) error {
			var (
				list []memora.Memora
				err  error
			)
			if c.Bool("public") {
				hasChat := true
				list, err = client.ListMemoras(c.Context, api.ListFilter{
					PrivacyStatus: string(memora.PrivacyPublic),
					HasChat:       &hasChat,
				})
			} else {
				list, err = client.MyMemoras(c.Context)
			}
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{"memoras": list})
		},
	}
}

// showCmd creates the show command.
func showCmd(client *api.Client) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a persona by id",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := argID(c)
			if err != nil {
				return outputError(err)
			}

			record, err := client.GetMemora(c.Context, id)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(record)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(client *api.Client) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Report a persona's processing status and the action it calls for",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := argID(c)
			if err != nil {
				return outputError(err)
			}

			record, err := client.GetMemora(c.Context, id)
			if err != nil {
				return outputError(err)
			}

			action, err := memora.Classify(record)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"id":     record.ID,
				"status": record.Status,
				"action": map[string]any{
					"kind":    action.Kind.String(),
					"step":    action.Step,
					"message": action.Message,
				},
			})
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(cache *store.Cache) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Refresh the local persona cache from the backend",
		Action: func(c *cli.Context) error {
			if err := cache.Refresh(c.Context); err != nil {
				return outputError(err)
			}

			owned, err := cache.Owned(c.Context)
			if err != nil {
				return outputError(err)
			}
			conversable, err := cache.Conversable(c.Context)
			if err != nil {
				return outputError(err)
			}
			processing, err := cache.HasProcessing(c.Context)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"owned":       len(owned),
				"conversable": len(conversable),
				"processing":  processing,
			})
		},
	}
}

// createCmd creates the create command. It runs the first wizard step; the
// video and social uploads follow as separate commands.
func createCmd(client *api.Client, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a persona (basic info step; follow with upload-video and upload-social)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Full name"},
			&cli.StringFlag{Name: "birthday", Aliases: []string{"b"}, Usage: "Birthday (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Value: "en", Usage: "Persona language code"},
			&cli.BoolFlag{Name: "public", Usage: "Make the persona publicly listed"},
			&cli.StringFlag{Name: "picture", Aliases: []string{"p"}, Usage: "Profile picture file"},
		},
		Action: func(c *cli.Context) error {
			basic := wizard.BasicInformation{
				FullName: c.String("name"),
				Birthday: c.String("birthday"),
				Language: c.String("language"),
				IsPublic: c.Bool("public"),
			}

			if path := c.String("picture"); path != "" {
				data, err := os.ReadFile(path)
				if err != nil {
					return outputError(errors.NewInvalidRequest(fmt.Sprintf("reading picture: %v", err)))
				}
				basic.Picture = &wizard.Picture{
					Name:   filepath.Base(path),
					Base64: base64.StdEncoding.EncodeToString(data),
				}
			}

			m := wizard.New(client, cfg.WizardExitDelay())
			if err := m.Start(); err != nil {
				return outputError(err)
			}
			if err := m.SubmitBasicInfo(c.Context, basic); err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"id":        m.MemoraID(),
				"next_step": string(m.Step()),
			})
		},
	}
}

// uploadVideoCmd creates the upload-video command.
func uploadVideoCmd(client *api.Client, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "upload-video",
		Usage:     "Upload the recorded video for a persona",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Video file"},
		},
		Action: func(c *cli.Context) error {
			id, err := argID(c)
			if err != nil {
				return outputError(err)
			}

			data, err := os.ReadFile(c.String("file"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("reading video: %v", err)))
			}

			m := wizard.New(client, cfg.WizardExitDelay())
			if err := m.Resume(c.Context, wizard.StepVideo, id); err != nil {
				return outputError(err)
			}
			if err := m.SubmitVideo(c.Context, data); err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"id":        id,
				"next_step": string(m.Step()),
			})
		},
	}
}

// uploadSocialCmd creates the upload-social command.
func uploadSocialCmd(client *api.Client, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "upload-social",
		Usage:     "Upload the social-data archive for a persona and start processing",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Export archive (zip)"},
		},
		Action: func(c *cli.Context) error {
			id, err := argID(c)
			if err != nil {
				return outputError(err)
			}

			path := c.String("file")
			f, err := os.Open(path)
			if err != nil {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("reading archive: %v", err)))
			}
			defer f.Close()

			m := wizard.New(client, cfg.WizardExitDelay())
			if err := m.Resume(c.Context, wizard.StepSocial, id); err != nil {
				return outputError(err)
			}
			if err := m.SubmitSocial(c.Context, f, filepath.Base(path)); err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"id":   id,
				"done": m.Done(),
			})
		},
	}
}

// retryCmd creates the retry command.
func retryCmd(client *api.Client) *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Re-run social media analysis for a persona",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := argID(c)
			if err != nil {
				return outputError(err)
			}

			if err := client.RetryAnalysis(c.Context, id); err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{"id": id, "retried": true})
		},
	}
}

// sendCmd creates the send command.
func sendCmd(client *api.Client, tokens auth.TokenSource) *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a chat message to a persona and print its reply",
		ArgsUsage: "<id> <text>",
		Action: func(c *cli.Context) error {
			id, err := argID(c)
			if err != nil {
				return outputError(err)
			}
			content := c.Args().Get(1)
			if content == "" {
				return outputError(errors.NewInvalidRequest("message text is required"))
			}

			session := chat.NewSession(client, viewerID(c, tokens), id)
			if err := session.Load(c.Context); err != nil {
				return outputError(err)
			}
			if _, err := session.Send(c.Context, content); err != nil {
				return outputError(err)
			}

			entries := session.Transcript().Entries()
			return outputJSON(map[string]any{
				"entries": wireEntries(entries[len(entries)-2:]),
			})
		},
	}
}

// historyCmd creates the history command.
func historyCmd(client *api.Client) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print the conversation with a persona, one entry per exchange side",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := argID(c)
			if err != nil {
				return outputError(err)
			}

			records, err := client.ListMessages(c.Context, id)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(map[string]any{
				"entries": wireEntries(chat.Expand(records)),
			})
		},
	}
}

// searchUsersCmd creates the search-users command. With a positional term the
// search runs once; with --watch, terms are read line by line from stdin and
// debounced, so only the term that survives the quiet period hits the backend.
func searchUsersCmd(client *api.Client, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "search-users",
		Usage:     "Search registered users by name, for sharing a persona",
		ArgsUsage: "[term]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "memora", Aliases: []string{"m"}, Usage: "Exclude users the persona is already shared with"},
			&cli.BoolFlag{Name: "watch", Usage: "Read terms from stdin lines, debounced"},
		},
		Action: func(c *cli.Context) error {
			var exclude []string
			if id := c.Int("memora"); id > 0 {
				shared, err := client.SharedWith(c.Context, id)
				if err != nil {
					return outputError(err)
				}
				for _, u := range shared {
					exclude = append(exclude, u.ID)
				}
			}

			if c.Bool("watch") {
				return watchUsers(client, cfg, exclude)
			}

			term := c.Args().First()
			if len([]rune(term)) < cfg.SearchMinChars {
				return outputJSON(map[string]any{"users": []memora.User{}})
			}

			found, err := client.SearchUsers(c.Context, term)
			if err != nil {
				return outputError(err)
			}

			excluded := make(map[string]bool, len(exclude))
			for _, id := range exclude {
				excluded[id] = true
			}
			filtered := make([]memora.User, 0, len(found))
			for _, u := range found {
				if !excluded[u.ID] {
					filtered = append(filtered, u)
				}
			}

			return outputJSON(map[string]any{"users": filtered})
		},
	}
}

// watchUsers streams debounced search results for stdin terms, one JSON line
// per settled term.
func watchUsers(client *api.Client, cfg *config.Config, exclude []string) error {
	var (
		mu  sync.Mutex
		enc = json.NewEncoder(os.Stdout)
	)
	searcher := users.NewSearcher(client, cfg.SearchDebounce(), cfg.SearchMinChars, func(r users.Result) {
		mu.Lock()
		defer mu.Unlock()
		found := r.Users
		if found == nil {
			found = []memora.User{}
		}
		out := map[string]any{"term": r.Term, "users": found}
		if r.Err != nil {
			out["error"] = r.Err.Error()
		}
		_ = enc.Encode(out)
	})
	defer searcher.Close()
	searcher.Exclude(exclude...)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		searcher.SetTerm(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return outputError(errors.NewInternal(err))
	}

	// Let the last term settle before tearing down.
	time.Sleep(2 * cfg.SearchDebounce())
	return nil
}

// serveCmd creates the serve command.
func serveCmd(client *api.Client, cache *store.Cache, tokens auth.TokenSource, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the Memora web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(client, cache, tokens, cfg, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if memoraErr, ok := err.(*errors.MemoraError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", memoraErr.Code, memoraErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// argID parses the first positional argument as a persona id.
func argID(c *cli.Context) (int, error) {
	raw := c.Args().First()
	if raw == "" {
		return 0, errors.NewInvalidRequest("persona id is required")
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest("persona id must be a positive integer")
	}
	return id, nil
}

// viewerID extracts the viewer identity from the bearer token, empty when
// unavailable. Only used client-side; ownership is enforced by the backend.
func viewerID(c *cli.Context, tokens auth.TokenSource) string {
	token, err := tokens.Token(c.Context)
	if err != nil {
		return ""
	}
	sub, err := auth.Subject(token)
	if err != nil {
		return ""
	}
	return sub
}

// wireEntry is the JSON shape of one transcript entry.
type wireEntry struct {
	ID       string `json:"id"`
	RecordID string `json:"record_id"`
	Role     string `json:"role"`
	Text     string `json:"text"`
	Time     string `json:"timestamp"`
}

// wireEntries converts transcript entries for output.
func wireEntries(entries []chat.Entry) []wireEntry {
	out := make([]wireEntry, len(entries))
	for i, e := range entries {
		out[i] = wireEntry{
			ID:       e.ID,
			RecordID: e.RecordID,
			Role:     string(e.Role),
			Text:     e.Text,
			Time:     e.Time.Format(time.RFC3339),
		}
	}
	return out
}
