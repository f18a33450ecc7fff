package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/sector"
)

var (
	searchLimit   int
	searchSectors []string
	searchDebug   bool

	rememberTags   []string
	rememberSector string

	listSector string

	forgetHard bool

	pruneApply bool
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory, consolidating against what is already known",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		cand := engine.Candidate{
			Content: strings.Join(args, " "),
			Tags:    rememberTags,
		}
		if rememberSector != "" {
			sec := sector.Sector(rememberSector)
			if !sector.Valid(sec) {
				return fmt.Errorf("unknown sector %q", rememberSector)
			}
			cand.Sector = sec
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		m, absorbed, err := eng.Ingest(ctx, cand)
		if err != nil {
			return err
		}
		if absorbed {
			fmt.Println("consolidated into an existing memory")
			return nil
		}
		fmt.Printf("remembered %s [%s]\n", m.ID, m.Sector)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		var filters engine.Filters
		for _, name := range searchSectors {
			sec := sector.Sector(name)
			if !sector.Valid(sec) {
				return fmt.Errorf("unknown sector %q", name)
			}
			filters.Sectors = append(filters.Sectors, sec)
		}
		filters.Debug = searchDebug

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		results, err := eng.Search.Search(ctx, strings.Join(args, " "), searchLimit, filters)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}

		for _, r := range results {
			fmt.Printf("%.3f  %s  [%s]  %s\n", r.Score, r.Memory.ID, r.Memory.Sector, r.Memory.Content)
			if r.Signals != nil {
				fmt.Printf("       sim=%.3f affinity=%.3f overlap=%.3f recency=%.3f tags=%.3f waypoint=%.3f\n",
					r.Signals.Similarity, r.Signals.SectorAffinity, r.Signals.TokenOverlap,
					r.Signals.Recency, r.Signals.TagMatch, r.Signals.Waypoint)
			}
			if len(r.Path) > 1 {
				fmt.Printf("       via %s\n", strings.Join(r.Path, " -> "))
			}
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active memories by descending salience",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		memories, err := eng.DB.ActiveMemories()
		if err != nil {
			return err
		}
		if listSector != "" {
			sec := sector.Sector(listSector)
			if !sector.Valid(sec) {
				return fmt.Errorf("unknown sector %q", listSector)
			}
			memories, err = eng.DB.MemoriesBySector(sec)
			if err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSECTOR\tSALIENCE\tCONTENT")
		for _, m := range memories {
			content := m.Content
			if len(content) > 72 {
				content = content[:69] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", m.ID, m.Sector, m.Salience, content)
		}
		return w.Flush()
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Forget a memory (soft delete; --hard removes it for good)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		m, err := eng.DB.GetMemory(args[0])
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("no memory with id %s", args[0])
		}

		if forgetHard {
			if err := eng.DB.DeleteMemory(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		}
		if err := eng.DB.Forget(args[0]); err != nil {
			return err
		}
		fmt.Printf("forgot %s\n", args[0])
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Report faded memories; --apply forgets them",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := eng.Prune(!pruneApply)
		if err != nil {
			return err
		}
		if pruneApply {
			fmt.Printf("pruned %d memories\n", n)
		} else {
			fmt.Printf("%d memories eligible for pruning (run with --apply to forget them)\n", n)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := eng.DB.CollectStats()
		if err != nil {
			return err
		}

		fmt.Printf("memories: %d active / %d total\n", stats.ActiveMemories, stats.TotalMemories)
		fmt.Printf("waypoints: %d\n", stats.Waypoints)
		fmt.Println("by sector:")
		for _, s := range sector.All {
			if n := stats.BySector[string(s)]; n > 0 {
				fmt.Printf("  %-11s %d\n", s, n)
			}
		}
		fmt.Printf("salience: %d low / %d mid / %d high\n",
			stats.SalienceBuckets["low"], stats.SalienceBuckets["mid"], stats.SalienceBuckets["high"])
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	searchCmd.Flags().StringSliceVarP(&searchSectors, "sector", "s", nil, "Restrict to sectors")
	searchCmd.Flags().BoolVar(&searchDebug, "debug", false, "Show per-signal score breakdown")

	rememberCmd.Flags().StringSliceVarP(&rememberTags, "tag", "t", nil, "Tags for the memory")
	rememberCmd.Flags().StringVarP(&rememberSector, "sector", "s", "", "Sector override (skips classification)")

	listCmd.Flags().StringVarP(&listSector, "sector", "s", "", "Restrict to one sector")

	forgetCmd.Flags().BoolVar(&forgetHard, "hard", false, "Hard-delete the row and its waypoints")

	pruneCmd.Flags().BoolVar(&pruneApply, "apply", false, "Actually forget the eligible memories")
}
