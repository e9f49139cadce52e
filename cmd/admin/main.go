// Command admin inspects the offline artifacts of the server: the run index
// and snapshot archives.
//
//	admin list -db ./data/index/runs.db
//	admin snapshot -path ./data/snapshots/<run>/tick00000050.zst
package main

import (
	"flag"
	"fmt"
	"os"

	"warefleet.ai/internal/persistence/indexdb"
	"warefleet.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "list":
			listCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index/runs.db", "run index path")
	limit := fs.Int("n", 20, "max runs to list")
	_ = fs.Parse(args)

	idx, err := indexdb.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	defer idx.Close()

	sums, err := idx.Summaries(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if len(sums) == 0 {
		fmt.Println("no runs recorded")
		return
	}
	for _, s := range sums {
		status := "running"
		if s.EndedAt != "" {
			status = fmt.Sprintf("ticks=%d steps=%d delivered=%d forced=%v", s.Ticks, s.Steps, s.Delivered, s.Forced)
		}
		fmt.Printf("%s  %dx%d seed=%d started=%s  %s\n",
			s.RunID, s.Width, s.Height, s.Seed, s.StartedAt, status)

		snaps, err := idx.SnapshotPaths(s.RunID)
		if err == nil && len(snaps) > 0 {
			fmt.Printf("  %d snapshot(s)\n", len(snaps))
		}
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("path", "", "snapshot archive path")
	_ = fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "missing -path")
		os.Exit(2)
	}
	arch, err := snapshot.Read(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	st := arch.State
	fmt.Printf("snapshot v%d run=%s tick=%d grid=%dx%d robots=%d items=%d obstacles=%d delivered=%d steps=%d policy_cells=%d\n",
		arch.Header.Version, arch.Header.RunID, arch.Header.Tick,
		st.Width, st.Height, len(st.Robots), len(st.Items), len(st.Obstacles),
		st.Delivered, st.TotalSteps, len(st.Policy))
}
