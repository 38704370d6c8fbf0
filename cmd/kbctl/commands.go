package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"figmapedia/kbservice/internal/client"
	"figmapedia/kbservice/internal/domain"
)

var (
	revalidateSecret string
	sectionCategory  []string
	searchLimit      int
	liveDebounce     time.Duration
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Show the unified search index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		snapshot, err := newClient().SearchIndex(cmd.Context())
		if err != nil {
			return err
		}
		st := currentStyles()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, st.Header.Render(fmt.Sprintf("%d items", snapshot.TotalCount)),
			st.Meta.Render("generated "+snapshot.GeneratedAt.Local().Format(time.RFC3339)))
		renderItems(out, st, limit(snapshot.Items, searchLimit))
		return nil
	},
}

var sectionsCmd = &cobra.Command{
	Use:   "sections [key]",
	Short: "List section sizes, or the items of one section",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		st := currentStyles()
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			items, err := c.Section(cmd.Context(), domain.SectionKey(args[0]), sectionCategory...)
			if err != nil {
				return err
			}
			renderItems(out, st, limit(items, searchLimit))
			return nil
		}

		data, err := c.Sections(cmd.Context())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(data))
		for key := range data {
			keys = append(keys, string(key))
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(out, "%-16s %s\n", st.Title.Render(key), st.Meta.Render(fmt.Sprintf("%d items", len(data[domain.SectionKey(key)]))))
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Filter the index locally with the instant lexical matcher",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := loadSession(cmd.Context())
		if err != nil {
			return err
		}
		defer session.Close()

		items, err := session.Instant(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		renderItems(cmd.OutOrStdout(), currentStyles(), limit(items, searchLimit))
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Run a semantic search, falling back to lexical matches on failure",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := loadSession(cmd.Context())
		if err != nil {
			return err
		}
		defer session.Close()

		result, err := session.Ask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		renderResult(cmd.OutOrStdout(), currentStyles(), result)
		return nil
	},
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Read queries from stdin and search as you type",
	Long: "Each line read from stdin is filtered instantly against the local index. " +
		"A semantic search runs once input has been quiet for the debounce delay; " +
		"a newer line cancels any search still in flight.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		session, err := loadSession(ctx)
		if err != nil {
			return err
		}
		defer session.Close()
		return runLive(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), session, liveDebounce)
	},
}

var revalidateCmd = &cobra.Command{
	Use:   "revalidate",
	Short: "Purge the service caches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := revalidateSecret
		if secret == "" {
			secret = os.Getenv("REVALIDATION_SECRET")
		}
		if secret == "" {
			return errors.New("secret is required (use --secret or REVALIDATION_SECRET)")
		}
		res, err := newClient().Revalidate(cmd.Context(), secret)
		if err != nil {
			return err
		}
		st := currentStyles()
		fmt.Fprintln(cmd.OutOrStdout(), st.Header.Render("revalidated"),
			st.Meta.Render(strings.Join(res.Tags, ", ")),
			st.Meta.Render(time.UnixMilli(res.Timestamp).Local().Format(time.RFC3339)))
		return nil
	},
}

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail <page-id|url>",
	Short: "Resolve a thumbnail for a page id or an external URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		target := strings.TrimSpace(args[0])

		var (
			img string
			err error
		)
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			img, err = c.OGImage(cmd.Context(), target)
		} else {
			img, err = c.PageThumbnail(cmd.Context(), target)
		}
		if err != nil {
			return err
		}
		if img == "" {
			fmt.Fprintln(cmd.OutOrStdout(), currentStyles().Meta.Render("(no image)"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), img)
		return nil
	},
}

var entryCmd = &cobra.Command{
	Use:   "entry <id>",
	Short: "Show one record with its body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := newClient().Entry(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		st := currentStyles()
		out := cmd.OutOrStdout()
		renderItems(out, st, []domain.Item{entry.Item})
		renderBlocks(out, st, entry.Blocks, 0)
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show per-collection source health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sources, err := newClient().SourcesHealth(cmd.Context())
		if err != nil {
			return err
		}
		renderSources(cmd.OutOrStdout(), currentStyles(), sources)
		return nil
	},
}

func init() {
	sectionsCmd.Flags().StringSliceVar(&sectionCategory, "category", nil, "Keep only items in these categories")
	revalidateCmd.Flags().StringVar(&revalidateSecret, "secret", "", "Revalidation secret (overrides REVALIDATION_SECRET)")
	liveCmd.Flags().DurationVar(&liveDebounce, "debounce", client.DefaultDebounce, "Quiet period before a semantic search runs")
	for _, cmd := range []*cobra.Command{indexCmd, sectionsCmd, searchCmd} {
		cmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum items to print (0 for all)")
	}

	rootCmd.AddCommand(indexCmd, sectionsCmd, searchCmd, askCmd, liveCmd, revalidateCmd, thumbnailCmd, entryCmd, sourcesCmd)
}

func loadSession(ctx context.Context) (*client.Session, error) {
	c := newClient()
	snapshot, err := c.SearchIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	return client.NewSession(snapshot.Items, c)
}

// runLive prints instant matches for every line and commits a semantic
// result for the latest line only.
func runLive(ctx context.Context, in io.Reader, out io.Writer, session *client.Session, delay time.Duration) error {
	st := currentStyles()
	debouncer := client.NewDebouncer(delay)
	defer debouncer.Stop()

	var mu sync.Mutex
	emit := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		items, err := session.Instant(ctx, query)
		if err != nil {
			return err
		}
		emit(func() {
			fmt.Fprintln(out, st.Header.Render("» "+query))
			renderItems(out, st, limit(items, 5))
		})

		debouncer.Submit(func() {
			result, err := session.Ask(ctx, query)
			if err != nil {
				if !errors.Is(err, client.ErrSuperseded) && ctx.Err() == nil {
					emit(func() { fmt.Fprintln(out, st.Error.Render(err.Error())) })
				}
				return
			}
			emit(func() { renderResult(out, st, result) })
		})
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	debouncer.Flush()
	return nil
}

func renderResult(w io.Writer, st styles, result client.Result) {
	switch {
	case result.Fallback:
		fmt.Fprintln(w, st.Warning.Render(result.Notice))
	case result.IsAI:
		fmt.Fprintln(w, st.Header.Render("AI 검색 결과: "+result.Query))
	}
	renderSummary(w, st, result.Summary)
	renderItems(w, st, result.Items)
}

func renderBlocks(w io.Writer, st styles, blocks []domain.Block, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, b := range blocks {
		text := b.Content
		if text == "" && b.MediaURL != "" {
			text = b.MediaURL
		}
		if text != "" {
			fmt.Fprintf(w, "%s%s %s\n", indent, st.Meta.Render("["+b.Type+"]"), text)
		}
		renderBlocks(w, st, b.Children, depth+1)
	}
}

func limit(items []domain.Item, n int) []domain.Item {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}
