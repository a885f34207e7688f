package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Yates-Labs/knowhow/internal/engine"
	"github.com/Yates-Labs/knowhow/internal/evidence"
	"github.com/Yates-Labs/knowhow/internal/orchestrator"
	"github.com/Yates-Labs/knowhow/internal/planner"
)

var (
	planOnly     bool
	jsonOutput   bool
	showEvidence bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask who knows what",
	Long: `Ask a natural-language question about the people behind your code.

The question is planned into structured queries against the relationship
store and nearest-neighbor searches against the embedding index. The merged
evidence is handed to the configured model, which answers with [E#]
citations. Without a question an interactive prompt is started.

Examples:
  knowhow ask "Who worked on gRPC services?"
  knowhow ask "What did alice change in Postgres last month?" --evidence
  knowhow ask "Who reviewed PR #42?" --plan
  knowhow ask`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&planOnly, "plan", false, "Print the retrieval plan without running it")
	askCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")
	askCmd.Flags().BoolVar(&showEvidence, "evidence", false, "Show every evidence item, not only cited ones")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pipeline, err := orchestrator.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	if !pipeline.SemanticEnabled() {
		fmt.Println(warningStyle.Render("Embedding index unavailable: answering from the relationship store only"))
	}

	eng, err := pipeline.Engine(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return askOnce(ctx, out, eng, strings.Join(args, " "))
	}
	return askInteractive(ctx, cmd.InOrStdin(), out, eng)
}

func askInteractive(ctx context.Context, in io.Reader, out io.Writer, eng *engine.Engine) error {
	contributors, technologies := eng.Entities()
	fmt.Fprintln(out, headerStyle.Render("Knowhow"))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d contributors and %d technologies known. Type a question, or \"exit\" to quit.",
		contributors, technologies)))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n"+refStyle.Render("? "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit", ":q":
			return nil
		}

		// one bad question should not end the session
		if err := askOnce(ctx, out, eng, question); err != nil {
			fmt.Fprintln(out, errorStyle.Render("Error:"), err)
		}
	}
}

func askOnce(ctx context.Context, out io.Writer, eng *engine.Engine, question string) error {
	if planOnly {
		return printPlan(out, eng.Plan(question))
	}

	result, err := eng.Ask(ctx, question)
	if jsonOutput && result != nil {
		if encErr := writeJSON(out, result); encErr != nil {
			return encErr
		}
		return err
	}

	switch {
	case errors.Is(err, engine.ErrNoEvidenceAvailable):
		fmt.Fprintln(out, warningStyle.Render("No evidence found for this question."))
		printReport(out, result.Report)
		return err
	case err != nil:
		if result != nil {
			printReport(out, result.Report)
		}
		return err
	}

	printAnswer(out, question, result)
	return nil
}

func printAnswer(out io.Writer, question string, result *engine.Result) {
	answer := result.Answer

	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Question:"))
	fmt.Fprintln(out, questionStyle.Render(question))
	fmt.Fprintln(out)

	if answer.Refused {
		fmt.Fprintln(out, warningStyle.Render("The model declined to answer from this evidence:"))
	} else {
		fmt.Fprintln(out, headerStyle.Render("Answer:"))
	}
	fmt.Fprintln(out, answerStyle.Render(strings.TrimSpace(answer.Text)))
	fmt.Fprintln(out)

	cited := make(map[string]bool, len(answer.Citations))
	for _, c := range answer.Citations {
		cited[strings.ToUpper(c.Ref)] = true
	}

	var shown []evidence.Item
	for _, item := range result.Bundle.Items {
		if showEvidence || cited[item.Ref] {
			shown = append(shown, item)
		}
	}
	if len(shown) > 0 {
		fmt.Fprintln(out, headerStyle.Render("Sources:"))
		for _, item := range shown {
			printItem(out, item)
		}
		fmt.Fprintln(out)
	}

	printReport(out, result.Report)
}

func printItem(out io.Writer, item evidence.Item) {
	title := item.Title
	if title == "" {
		title = item.Key
	}

	var meta []string
	if item.Author != "" {
		meta = append(meta, item.Author)
	}
	if !item.Timestamp.IsZero() {
		meta = append(meta, item.Timestamp.Format("2006-01-02"))
	}
	meta = append(meta, item.Sources.String())

	fmt.Fprintf(out, "  %s %s %s\n", refStyle.Render("["+item.Ref+"]"), title, mutedStyle.Render("("+strings.Join(meta, ", ")+")"))
	if item.URL != "" {
		fmt.Fprintf(out, "       %s\n", mutedStyle.Render(item.URL))
	}
}

func printReport(out io.Writer, report engine.Report) {
	summary := fmt.Sprintf("structured: %d requests, %d rows · semantic: %d requests, %d matches · retrieval %s · total %s",
		report.StructuredRequests, report.StructuredRows,
		report.SemanticRequests, report.SemanticMatches,
		report.RetrievalDuration.Round(time.Millisecond), report.TotalDuration.Round(time.Millisecond))
	fmt.Fprintln(out, mutedStyle.Render(summary))

	for _, f := range report.Failures {
		fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("  excluded %s %s after %d attempt(s): %s",
			f.Source, f.Request, f.Attempts, f.Error)))
	}
}

func printPlan(out io.Writer, plan planner.Plan) error {
	if jsonOutput {
		return writeJSON(out, plan)
	}

	fmt.Fprintln(out, headerStyle.Render("Plan:"))
	if len(plan.Contributors) > 0 {
		fmt.Fprintf(out, "  contributors: %s\n", numberStyle.Render(strings.Join(plan.Contributors, ", ")))
	}
	if len(plan.Technologies) > 0 {
		fmt.Fprintf(out, "  technologies: %s\n", numberStyle.Render(strings.Join(plan.Technologies, ", ")))
	}
	if !plan.TimeRange.IsZero() {
		fmt.Fprintf(out, "  time range:   %s\n", numberStyle.Render(plan.TimeRange.String()))
	}
	for _, req := range plan.Structured {
		fmt.Fprintf(out, "  %s %s\n", successStyle.Render("structured"), req)
	}
	for _, req := range plan.Semantic {
		fmt.Fprintf(out, "  %s   %s\n", successStyle.Render("semantic"), req)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
