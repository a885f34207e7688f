package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/knowhow/internal/kb"
	"github.com/Yates-Labs/knowhow/internal/orchestrator"
)

var (
	exportFile     string
	ingestToken    string
	maxPRs         int
	maxCommits     int
	noPatches      bool
	dryRun         bool
	topContributor int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [repository...]",
	Short: "Ingest repositories into the knowledge base",
	Long: `Extract pull requests or commits from one or more repositories, detect the
technologies each change touches, and load the result into the relationship
store and the embedding index.

A github.com repository is read through the GitHub API when a token is
configured (GITHUB_TOKEN or --token). Anything else, including local paths,
is read from git history. A pull request URL ingests that single pull
request and requires a token.

Examples:
  knowhow ingest /path/to/local/repo
  knowhow ingest https://github.com/acme/payments --max-prs 500
  knowhow ingest https://github.com/acme/payments/pull/42
  knowhow ingest https://github.com/acme/api ./services/ledger --dry-run --export snapshot.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&exportFile, "export", "", "Export the snapshot to a JSON file: --export <filename>")
	ingestCmd.Flags().StringVar(&ingestToken, "token", "", "GitHub token (overrides config and GITHUB_TOKEN)")
	ingestCmd.Flags().IntVar(&maxPRs, "max-prs", 0, "Maximum merged pull requests per GitHub repository (0 = config)")
	ingestCmd.Flags().IntVar(&maxCommits, "max-commits", 0, "Maximum commits per git repository (0 = config)")
	ingestCmd.Flags().BoolVar(&noPatches, "no-patches", false, "Skip diff text; technologies are then detected from file names only")
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Build the snapshot without loading it")
	ingestCmd.Flags().IntVar(&topContributor, "top", 15, "Number of contributors to list")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts := orchestrator.IngestOptions(cfg)
	if ingestToken != "" {
		opts.Token = ingestToken
	}
	if maxPRs > 0 {
		opts.PullRequests.MaxPullRequests = maxPRs
	}
	if maxCommits > 0 {
		opts.Git.MaxCommits = maxCommits
	}
	if noPatches {
		opts.PullRequests.IncludePatches = false
		opts.Git.IncludePatch = false
	}

	var snapshot *kb.Snapshot
	if dryRun {
		built, err := orchestrator.BuildSnapshot(ctx, opts, args...)
		if err != nil {
			return err
		}
		snapshot = built
	} else {
		pipeline, err := orchestrator.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		built, result, err := pipeline.Ingest(ctx, opts, args...)
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
		snapshot = built
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Loaded %d changesets, %d files and %d technologies; indexed %d documents",
			result.Graph.Changesets, result.Graph.Files, result.Graph.Technologies, result.Indexed)))
		if !pipeline.SemanticEnabled() {
			fmt.Println(warningStyle.Render("Embedding index unavailable: only the relationship store was loaded"))
		} else if result.IndexSize >= 0 {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("Embedding index holds %d documents", result.IndexSize)))
		}
	}

	if exportFile != "" {
		if err := handleExport(snapshot, exportFile); err != nil {
			return err
		}
	}

	return outputTable(snapshot, topContributor)
}

func handleExport(snapshot *kb.Snapshot, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("✓ Exported %d changesets to %s\n", len(snapshot.Changesets), filename)
	return nil
}

// outputTable lists the most active contributors of a snapshot
func outputTable(snapshot *kb.Snapshot, limit int) error {
	if len(snapshot.Contributors) == 0 {
		fmt.Println("No contributors found")
		return nil
	}

	const (
		nameWidth      = 28
		changesetWidth = 12
		linesWidth     = 18
		dateWidth      = 14
	)

	cellHeader := headerStyle.Padding(0, 1)
	headers := []string{
		cellHeader.Width(nameWidth).Render("CONTRIBUTOR"),
		cellHeader.Width(changesetWidth).Render("CHANGESETS"),
		cellHeader.Width(linesWidth).Render("LINES (+/-)"),
		cellHeader.Width(dateWidth).Render("LAST ACTIVE"),
	}
	fmt.Println(strings.Join(headers, borderStyle.Render("│")))

	separatorParts := []string{
		strings.Repeat("─", nameWidth),
		strings.Repeat("─", changesetWidth),
		strings.Repeat("─", linesWidth),
		strings.Repeat("─", dateWidth),
	}
	fmt.Println(borderStyle.Render(strings.Join(separatorParts, "┼")))

	contributors := append([]kb.Contributor(nil), snapshot.Contributors...)
	sort.SliceStable(contributors, func(i, j int) bool {
		if contributors[i].ChangesetCount != contributors[j].ChangesetCount {
			return contributors[i].ChangesetCount > contributors[j].ChangesetCount
		}
		return contributors[i].Handle < contributors[j].Handle
	})
	if limit > 0 && len(contributors) > limit {
		contributors = contributors[:limit]
	}

	nameStyle := lipgloss.NewStyle().Foreground(accentColor).Padding(0, 1).Width(nameWidth)
	countStyle := numberStyle.Padding(0, 1).Width(changesetWidth).Align(lipgloss.Right)
	linesStyle := numberStyle.Padding(0, 1).Width(linesWidth).Align(lipgloss.Right)
	dateStyle := lipgloss.NewStyle().Foreground(answerColor).Padding(0, 1).Width(dateWidth)

	for _, c := range contributors {
		name := c.Handle
		if c.Name != "" && c.Name != c.Handle {
			name = fmt.Sprintf("%s (%s)", c.Handle, c.Name)
		}
		lastActive := "-"
		if !c.LastActive.IsZero() {
			lastActive = c.LastActive.Format("Jan 02, 2006")
		}

		cells := []string{
			nameStyle.Render(name),
			countStyle.Render(fmt.Sprintf("%d", c.ChangesetCount)),
			linesStyle.Render(fmt.Sprintf("+%d/-%d", c.Additions, c.Deletions)),
			dateStyle.Render(lastActive),
		}
		fmt.Println(strings.Join(cells, borderStyle.Render("│")))
	}

	fmt.Println()
	techs := make([]string, 0, len(snapshot.Technologies))
	for _, t := range snapshot.Technologies {
		techs = append(techs, t.Name)
	}
	summary := fmt.Sprintf("%d contributors · %d changesets · %d files · technologies: %s",
		len(snapshot.Contributors), len(snapshot.Changesets), len(snapshot.Files), strings.Join(techs, ", "))
	fmt.Println(mutedStyle.Render(summary))

	repos := make([]string, 0, len(snapshot.Repositories))
	for _, r := range snapshot.Repositories {
		if r.DefaultBranch != "" {
			repos = append(repos, fmt.Sprintf("%s@%s", r.ID, r.DefaultBranch))
		} else {
			repos = append(repos, r.ID)
		}
	}
	fmt.Println(mutedStyle.Render("repositories: " + strings.Join(repos, ", ")))
	return nil
}
