package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keldan/docq/internal/backend"
	"github.com/keldan/docq/internal/chat"
	"github.com/keldan/docq/internal/config"
	"github.com/keldan/docq/internal/files"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question over the documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		fileIDs, _ := cmd.Flags().GetInt64Slice("files")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if topK == 0 {
			topK = cfg.Query.TopK
		}

		client, err := newBackendClient()
		if err != nil {
			return err
		}

		session := chat.New(client, chat.Options{
			TopK:   topK,
			Notify: cliNotifier{},
			OnDelta: func(delta string) {
				fmt.Print(delta)
			},
		})

		if err := session.Ask(cmd.Context(), question, fileIDs); err != nil {
			return err
		}
		fmt.Println()

		printCitations(session.Messages())
		return nil
	},
}

func init() {
	askCmd.Flags().Int("top-k", 0, "number of context chunks to retrieve (0 uses the configured default)")
	askCmd.Flags().Int64Slice("files", nil, "restrict the search to these document ids")
}

func printCitations(msgs []chat.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != chat.RoleAssistant || len(last.Contexts) == 0 {
		return
	}

	fmt.Println()
	fmt.Println(colorize(colorBold, "Sources:"))
	for _, c := range last.Contexts {
		loc := c.Citation.DocID
		if c.Citation.Filename != "" {
			loc = c.Citation.Filename
		}
		if c.Citation.Page != nil {
			loc += fmt.Sprintf(", p.%d", *c.Citation.Page)
		}
		if c.Citation.Section != nil {
			loc += ", " + *c.Citation.Section
		}
		fmt.Printf("  %s\n", colorize(colorDim, loc))
	}
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question-answering session",
	Long: `Interactive question-answering session.

Type a question to stream an answer. Slash commands:
  /files          list documents with selection markers
  /select <id>    toggle a document in the search scope
  /select all     select every document explicitly
  /all            clear the selection (search all documents)
  /none           alias for /all
  /chunks <id>    show a document's chunks
  /clear          clear the conversation
  /quit           exit`,
}

func init() {
	chatCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	}
}

// chatBackend is what the interactive session needs from the service client.
type chatBackend interface {
	chat.Streamer
	files.ChunkFetcher
	ListFiles(ctx context.Context) ([]backend.FileMeta, error)
}

type chatApp struct {
	session *chat.Client
	manager *files.Manager
	chunks  *files.ChunkCache
	client  chatBackend
}

func runChat(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client, err := newBackendClient()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		slog.Warn("chunk store unavailable, caching in memory only", "error", err)
	}
	var persist files.ChunkPersister
	if store != nil {
		defer store.Close()
		persist = store
	}

	app := &chatApp{
		session: chat.New(client, chat.Options{
			TopK:   cfg.Query.TopK,
			Notify: cliNotifier{},
			OnDelta: func(delta string) {
				fmt.Print(delta)
			},
		}),
		manager: files.NewManager(),
		chunks:  files.NewChunkCache(client, persist),
		client:  client,
	}

	if err := app.refreshFiles(ctx); err != nil {
		printWarning("Could not list documents: %v", err)
	}

	fmt.Printf("docq %s — type a question, /help for commands, /quit to exit\n", version)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(colorize(colorBold, "> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := app.handleCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		if err := app.session.Ask(ctx, line, app.manager.Scope()); err == nil {
			fmt.Println()
			printCitations(app.session.Messages())
		}
	}
}

func (app *chatApp) refreshFiles(ctx context.Context) error {
	list, err := app.client.ListFiles(ctx)
	if err != nil {
		return err
	}
	app.manager.SetFiles(list)
	return nil
}

func (app *chatApp) handleCommand(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(chatCmd.Long)

	case "/files":
		if err := app.refreshFiles(ctx); err != nil {
			printWarning("Could not refresh documents: %v", err)
		}
		app.printFiles()

	case "/select":
		if len(fields) < 2 {
			printWarning("Usage: /select <id>|all")
			break
		}
		if fields[1] == "all" {
			app.manager.SelectAll()
			app.printScope()
			break
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			printWarning("Invalid document id %q", fields[1])
			break
		}
		if _, ok := app.manager.Lookup(id); !ok {
			printWarning("No document with id %d", id)
			break
		}
		app.manager.Toggle(id)
		app.printScope()

	case "/all", "/none":
		app.manager.ClearSelection()
		printInfo("Searching all documents")

	case "/chunks":
		if len(fields) < 2 {
			printWarning("Usage: /chunks <id>")
			break
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			printWarning("Invalid document id %q", fields[1])
			break
		}
		app.showChunks(ctx, id)

	case "/clear":
		if err := app.session.Clear(); err == nil {
			printInfo("Conversation cleared")
		}

	default:
		printWarning("Unknown command %s", fields[0])
	}
	return false
}

func (app *chatApp) printFiles() {
	list := app.manager.Files()
	if len(list) == 0 {
		fmt.Println("No documents ingested yet.")
		return
	}
	for _, f := range list {
		marker := " "
		if app.manager.IsSelected(f.ID) {
			marker = colorize(colorGreen, "*")
		}
		fmt.Printf("%s %s  %s  %.2f MB\n",
			marker,
			colorize(colorCyan, fmt.Sprintf("%4d", f.ID)),
			colorize(colorBold, f.Filename),
			f.SizeMB,
		)
	}
	app.printScope()
}

func (app *chatApp) printScope() {
	selected := app.manager.Selected()
	if len(selected) == 0 {
		printInfo("Scope: all documents")
		return
	}
	parts := make([]string, len(selected))
	for i, id := range selected {
		parts[i] = strconv.FormatInt(id, 10)
	}
	printInfo("Scope: documents %s", strings.Join(parts, ", "))
}

func (app *chatApp) showChunks(ctx context.Context, id int64) {
	if err := app.chunks.FetchOrToggle(ctx, id); err != nil {
		printError("Could not fetch chunks: %v", err)
		return
	}
	displayed, ok := app.chunks.Displayed()
	if !ok || displayed != id {
		printInfo("Chunk view closed")
		return
	}
	chunks, ok := app.chunks.Chunks(id)
	if !ok || len(chunks) == 0 {
		fmt.Println("No chunks stored for this document.")
		return
	}
	printChunks(chunks)
}
