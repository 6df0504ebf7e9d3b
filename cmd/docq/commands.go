package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/keldan/docq/internal/backend"
	"github.com/keldan/docq/internal/chunkstore"
	"github.com/keldan/docq/internal/config"
	"github.com/keldan/docq/internal/mcp"
	"github.com/keldan/docq/internal/upload"
)

// openStore opens the local chunk store when persistence is enabled.
// Returns nil when it is not; callers treat a nil store as cache-off.
func openStore(cfg config.Config) (*chunkstore.Store, error) {
	if !cfg.Cache.PersistChunks {
		return nil, nil
	}
	return chunkstore.Open(cfg.Cache.DataDir)
}

// --- files ---

var filesCmd = &cobra.Command{
	Use:       "files [list|refresh]",
	Short:     "List the ingested documents",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"list", "refresh"},
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		files, err := client.ListFiles(cmd.Context())
		if err != nil {
			return err
		}

		if len(files) == 0 {
			fmt.Println("No documents ingested yet.")
			return nil
		}

		for _, f := range files {
			fmt.Printf("%s  %s  %.2f MB  %s\n",
				colorize(colorCyan, fmt.Sprintf("%4d", f.ID)),
				colorize(colorBold, f.Filename),
				f.SizeMB,
				colorize(colorDim, f.UploadedAt.Format("2006-01-02 15:04")),
			)
		}
		return nil
	},
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a document for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := upload.Inspect(args[0])
		if err != nil {
			return err
		}
		if info.Pages > 0 {
			printInfo("Uploading %s (%.2f MB, %d pages)", info.Filename, info.SizeMB, info.Pages)
		} else {
			printInfo("Uploading %s (%.2f MB)", info.Filename, info.SizeMB)
		}

		f, err := os.Open(info.Path)
		if err != nil {
			return err
		}
		defer f.Close()

		client, err := newBackendClient()
		if err != nil {
			return err
		}

		result, err := client.Ingest(cmd.Context(), info.Filename, f)
		if err != nil {
			return err
		}

		printSuccess("Ingested %s as document %d (%d chunks)", result.File.Filename, result.File.ID, result.Chunks)
		return nil
	},
}

// --- update ---

var updateCmd = &cobra.Command{
	Use:   "update <id> <path>",
	Short: "Replace a document's content and re-ingest it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}

		info, err := upload.Inspect(args[1])
		if err != nil {
			return err
		}

		f, err := os.Open(info.Path)
		if err != nil {
			return err
		}
		defer f.Close()

		client, err := newBackendClient()
		if err != nil {
			return err
		}

		result, err := client.Reingest(cmd.Context(), fileID, info.Filename, f)
		if err != nil {
			return err
		}

		// Stored chunks are stale after a re-ingest.
		dropCachedChunks(fileID)

		printSuccess("Re-ingested document %d (%d chunks)", result.File.ID, result.Chunks)
		return nil
	},
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an ingested document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}

		client, err := newBackendClient()
		if err != nil {
			return err
		}

		if err := client.DeleteFile(cmd.Context(), fileID); err != nil {
			return err
		}

		dropCachedChunks(fileID)

		printSuccess("Deleted document %d", fileID)
		return nil
	},
}

func dropCachedChunks(fileID int64) {
	cfg, err := config.Load()
	if err != nil {
		return
	}
	store, err := openStore(cfg)
	if err != nil || store == nil {
		return
	}
	defer store.Close()
	if err := store.DeleteChunks(fileID); err != nil {
		slog.Warn("could not drop cached chunks", "file_id", fileID, "error", err)
	}
}

// --- chunks ---

var chunksCmd = &cobra.Command{
	Use:   "chunks <id>",
	Short: "Show the stored chunks of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			slog.Warn("chunk store unavailable, fetching from server", "error", err)
		}
		if store != nil {
			defer store.Close()
		}

		var chunks []backend.Chunk
		if store != nil && !refresh {
			if cached, err := store.ChunksFor(fileID); err == nil && len(cached) > 0 {
				chunks = cached
			}
		}

		if chunks == nil {
			client, err := newBackendClient()
			if err != nil {
				return err
			}
			chunks, err = client.FileChunks(cmd.Context(), fileID)
			if err != nil {
				return err
			}
			if store != nil {
				if err := store.SaveChunks(fileID, chunks); err != nil {
					slog.Warn("could not persist chunks", "file_id", fileID, "error", err)
				}
			}
		}

		if len(chunks) == 0 {
			fmt.Println("No chunks stored for this document.")
			return nil
		}

		printChunks(chunks)
		return nil
	},
}

func init() {
	chunksCmd.Flags().Bool("refresh", false, "bypass the local cache and refetch from the server")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document service status and collection size",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		if err := client.Health(cmd.Context()); err != nil {
			printStatus("Server", "unreachable")
			return err
		}
		printStatus("Server", "healthy")

		stats, err := client.Stats(cmd.Context())
		if err != nil {
			return err
		}
		printStatus("Documents", "%d", stats.Files)
		printStatus("Chunks", "%d", stats.Chunks)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the document tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client, err := newBackendClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mcpSrv := mcp.NewServer(mcp.Deps{
			Backend: client,
			TopK:    cfg.Query.TopK,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)

		slog.Info("MCP server started (stdio transport)")
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}
