// Command contextvaultd is the CLI front-end over a vault: it resolves
// config, opens the derived index, and dispatches to save/get/list/delete/
// status/reindex.
//
// Usage:
//
//	contextvaultd save --kind insight --title "Title" [--tags=a,b] [--source=x] "body text"
//	contextvaultd get <query> [--kind=x] [--limit=N]
//	contextvaultd list [--category=x] [--kind=x] [--limit=N]
//	contextvaultd delete <id>
//	contextvaultd status
//	contextvaultd reindex [--full]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/contextvault/vault/internal/config"
	"github.com/contextvault/vault/internal/embed"
	"github.com/contextvault/vault/internal/index"
	"github.com/contextvault/vault/internal/operations"
	"github.com/contextvault/vault/internal/schema"
	"github.com/contextvault/vault/internal/vaultfs"
	"github.com/contextvault/vault/internal/vaulterr"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, usage())
		return 1
	}

	cmd, rest := args[0], args[1:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Fprintln(out, usage())
		return 0
	}

	eng, err := openEngine(context.Background())
	if err != nil {
		fmt.Fprintln(errOut, color.RedString("error:"), err)
		return 1
	}
	defer eng.DB.Close()

	ctx := context.Background()

	switch cmd {
	case "save":
		return cmdSave(ctx, eng, out, errOut, rest)
	case "get":
		return cmdGet(ctx, eng, out, errOut, rest)
	case "list":
		return cmdList(ctx, eng, out, errOut, rest)
	case "delete":
		return cmdDelete(ctx, eng, out, errOut, rest)
	case "status":
		return cmdStatus(ctx, eng, out, errOut)
	case "reindex":
		return cmdReindex(ctx, eng, out, errOut, rest)
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n%s\n", cmd, usage())
		return 1
	}
}

func usage() string {
	return `contextvaultd: a local markdown memory vault

Commands:
  save <body> --kind K [--title=T] [--tags=a,b] [--source=S] [--identity-key=K]
  get <query> [--kind=K] [--category=C] [--tags=a,b] [--limit=N]
  list [--category=C] [--kind=K] [--limit=N] [--offset=N]
  delete <id>
  status
  reindex [--full]`
}

func openEngine(ctx context.Context) (*operations.Engine, error) {
	cfg, err := config.Resolve(config.Options{})
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := schema.Open(ctx, cfg.DBPath, embed.Dims)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	emb := embed.NewLocal()
	ix := index.New(db, emb, nil)

	return operations.NewEngine(cfg, vaultfs.NewReal(), db, ix, emb, nil), nil
}

func cmdSave(ctx context.Context, eng *operations.Engine, out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	kind := fs.String("kind", "", "Entry kind (required)")
	title := fs.String("title", "", "Title")
	tags := fs.String("tags", "", "Comma-separated tags")
	source := fs.String("source", "", "Source label")
	identityKey := fs.String("identity-key", "", "Identity key for entity kinds")
	folder := fs.String("folder", "", "Folder hint")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if *kind == "" {
		fmt.Fprintln(errOut, "error: --kind is required")
		return 1
	}

	body := strings.Join(fs.Args(), " ")
	if body == "" {
		fmt.Fprintln(errOut, "error: body is required")
		return 1
	}

	in := operations.SaveInput{
		Kind:        *kind,
		Title:       *title,
		Body:        body,
		Source:      *source,
		IdentityKey: *identityKey,
		Folder:      *folder,
	}

	if *tags != "" {
		in.Tags = strings.Split(*tags, ",")
	}

	e, err := eng.SaveContext(ctx, in)
	if err != nil {
		return reportError(errOut, err)
	}

	fmt.Fprintln(out, color.GreenString("saved:"), e.FilePath)
	fmt.Fprintln(out, "id:", e.ID)

	return 0
}

func cmdGet(ctx context.Context, eng *operations.Engine, out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	kind := fs.String("kind", "", "Filter by kind")
	category := fs.String("category", "", "Filter by category")
	tags := fs.String("tags", "", "Comma-separated tags (OR match)")
	limit := fs.Int("limit", 10, "Max results")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	query := strings.Join(fs.Args(), " ")

	in := operations.GetInput{Query: query, Kind: *kind, Category: *category, Limit: *limit}
	if *tags != "" {
		in.Tags = strings.Split(*tags, ",")
	}

	results, err := eng.GetContext(ctx, in)
	if err != nil {
		return reportError(errOut, err)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "no results.")
		return 0
	}

	for _, r := range results {
		fmt.Fprintf(out, "%s  %.3f  %s  %s\n", color.CyanString(r.Entry.ID), r.Score, r.Entry.Kind, r.Entry.Title)
	}

	return 0
}

func cmdList(ctx context.Context, eng *operations.Engine, out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	kind := fs.String("kind", "", "Filter by kind")
	category := fs.String("category", "", "Filter by category")
	limit := fs.Int("limit", 50, "Max results")
	offset := fs.Int("offset", 0, "Offset")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	entries, err := eng.ListContext(ctx, operations.ListInput{Kind: *kind, Category: *category, Limit: *limit, Offset: *offset})
	if err != nil {
		return reportError(errOut, err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "no entries.")
		return 0
	}

	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s  %s\n", color.CyanString(e.ID), e.Kind, e.Title)
	}

	return 0
}

func cmdDelete(ctx context.Context, eng *operations.Engine, out, errOut io.Writer, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: contextvaultd delete <id>")
		return 1
	}

	if err := eng.DeleteContext(ctx, args[0]); err != nil {
		return reportError(errOut, err)
	}

	fmt.Fprintln(out, color.GreenString("deleted:"), args[0])

	return 0
}

func cmdStatus(ctx context.Context, eng *operations.Engine, out, errOut io.Writer) int {
	st, err := eng.ContextStatus(ctx)
	if err != nil {
		return reportError(errOut, err)
	}

	if st.Stale {
		fmt.Fprintln(out, color.YellowString("(stale cached status, cached_at=%s)", st.CachedAt.Format(time.RFC3339)))
	}

	fmt.Fprintln(out, "vault:", st.VaultPath, "exists:", st.Exists)
	fmt.Fprintln(out, "db size:", st.DBSizeBytes, "bytes")
	fmt.Fprintln(out, "stale paths:", st.StalePathCount)
	fmt.Fprintf(out, "embeddings: %d/%d indexed (%d missing)\n", st.Embeddings.Indexed, st.Embeddings.Total, st.Embeddings.Missing)

	for kind, n := range st.KindCounts {
		fmt.Fprintf(out, "  %s: %d\n", kind, n)
	}

	return 0
}

func cmdReindex(ctx context.Context, eng *operations.Engine, out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	full := fs.Bool("full", true, "Also update changed rows and remove rows for files no longer on disk")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	mode := index.AddOnly
	if *full {
		mode = index.FullSync
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("reindexing"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSpinnerType(14),
	)
	defer bar.Finish()

	result, err := eng.Index.Reindex(ctx, eng.Config.VaultDir, index.ReindexOptions{Mode: mode})
	if err != nil {
		return reportError(errOut, err)
	}

	fmt.Fprintf(out, "added=%d updated=%d removed=%d unchanged=%d\n",
		result.Added, result.Updated, result.Removed, result.Unchanged)

	return 0
}

func reportError(errOut io.Writer, err error) int {
	kind := vaulterr.KindOf(err)
	if kind != "" {
		fmt.Fprintln(errOut, color.RedString("error (%s):", kind), err)
	} else {
		fmt.Fprintln(errOut, color.RedString("error:"), err)
	}

	return 1
}
