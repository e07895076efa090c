package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wethinkt/go-timegrid/internal/i18n"
	"github.com/wethinkt/go-timegrid/internal/library"
	"github.com/wethinkt/go-timegrid/internal/scrubber"
	"github.com/wethinkt/go-timegrid/internal/timeline"
)

var bucketsLimit int

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List day buckets and their counts",
	Long: `List the library's day buckets in display order with item counts.

Reads the same sources as browse: the local library, --server or --demo.

Examples:
  timegrid buckets                    # Newest days first
  timegrid buckets --order oldest -n 10
  timegrid buckets --json --type video`,
	RunE: runBuckets,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show library statistics",
	RunE:  runStats,
}

func runBuckets(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	src, err := openSource(ctx)
	if err != nil {
		return err
	}
	defer src.close()

	cfg := gridConfig()
	buckets, err := src.ListBuckets(ctx, cfg.Residency.Filter)
	if err != nil {
		return err
	}
	buckets = append([]timeline.Bucket(nil), buckets...)
	timeline.SortBuckets(buckets, cfg.Residency.Order)
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	if bucketsLimit > 0 && len(buckets) > bucketsLimit {
		buckets = buckets[:bucketsLimit]
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(buckets)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DAY\tITEMS\tMONTH\t")
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", b.Key, humanize.Comma(int64(b.Count)), scrubber.Label(b.Key))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println(i18n.Tf("buckets.total", "%[1]s items in %[2]s days", humanize.Comma(int64(total)), humanize.Comma(int64(len(buckets)))))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	path, err := libraryPath()
	if err != nil {
		return err
	}
	store, err := library.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	albums, err := store.Albums(ctx)
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"path":   path,
			"items":  st.Items,
			"days":   st.Buckets,
			"bytes":  st.Bytes,
			"oldest": st.Oldest,
			"newest": st.Newest,
			"albums": albums,
		})
	}

	fmt.Printf("Library: %s\n", path)
	fmt.Printf("  Items:  %s\n", humanize.Comma(int64(st.Items)))
	fmt.Printf("  Days:   %s\n", humanize.Comma(int64(st.Buckets)))
	fmt.Printf("  Size:   %s\n", humanize.Bytes(uint64(max(st.Bytes, 0))))
	if st.Items > 0 {
		fmt.Printf("  Range:  %s to %s\n", st.Oldest.Format("2006-01-02"), st.Newest.Format("2006-01-02"))
	}
	for name, n := range albums {
		fmt.Printf("  Album %q: %s items\n", name, humanize.Comma(int64(n)))
	}
	return nil
}

func init() {
	addBrowseFlags(bucketsCmd)
	bucketsCmd.Flags().IntVarP(&bucketsLimit, "limit", "n", 0, "show at most n days")
	bucketsCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")

	statsCmd.Flags().StringVar(&dbPath, "db", "", "library database (default ~/.timegrid/library.duckdb)")
	statsCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
}
