package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/c54335/contract-delivery-tracker/service"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply progress sentences to a tracking table offline",
	Long: `Apply reads a tracking table CSV, interprets each line of the sentences file
as a progress update and writes the updated table. Sentences that cannot be
interpreted are reported on stderr and skipped.`,
	RunE: runApplyCmd,
}

func init() {
	f := applyCmd.Flags()
	f.String("table", "", "tracking table CSV (required)")
	f.String("sentences", "", "file with one progress sentence per line (required)")
	f.String("sign-date", "", "contract signing date")
	f.String("award-date", "", "contract award date")
	f.String("out", "-", "output CSV, - for stdout")
	f.String("today", "", "evaluate statuses as of this date (default: today)")
	f.Bool("strict", false, "fail if any sentence cannot be applied")
	applyCmd.MarkFlagRequired("table")
	applyCmd.MarkFlagRequired("sentences")
	rootCmd.AddCommand(applyCmd)
}

type applyOptions struct {
	Table     string
	Sentences string
	SignDate  string
	AwardDate string
	Out       string
	Today     string
	Strict    bool
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	var opts applyOptions
	opts.Table, _ = f.GetString("table")
	opts.Sentences, _ = f.GetString("sentences")
	opts.SignDate, _ = f.GetString("sign-date")
	opts.AwardDate, _ = f.GetString("award-date")
	opts.Out, _ = f.GetString("out")
	opts.Today, _ = f.GetString("today")
	opts.Strict, _ = f.GetBool("strict")

	today := service.DateOf(time.Now().In(cfg.Tracker.Location()))
	return runApply(opts, service.NewInterpreter(&cfg.Tracker), today, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func optionalDate(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := service.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &d, nil
}

func runApply(opts applyOptions, interpreter *service.Interpreter, today time.Time, stdout, stderr io.Writer) error {
	sign, err := optionalDate("sign-date", opts.SignDate)
	if err != nil {
		return err
	}
	award, err := optionalDate("award-date", opts.AwardDate)
	if err != nil {
		return err
	}
	if opts.Today != "" {
		d, err := service.ParseDate(opts.Today)
		if err != nil {
			return fmt.Errorf("--today: %w", err)
		}
		today = d
	}

	tableFile, err := os.Open(opts.Table)
	if err != nil {
		return err
	}
	defer tableFile.Close()
	records, err := service.ReadCSV(tableFile)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.Table, err)
	}

	tracker := service.NewTracker()
	if err := tracker.Initialize(records, sign, award); err != nil {
		return fmt.Errorf("%s: %w", opts.Table, err)
	}

	sentenceFile, err := os.Open(opts.Sentences)
	if err != nil {
		return err
	}
	defer sentenceFile.Close()

	applied, failed := 0, 0
	scanner := bufio.NewScanner(sentenceFile)
	for line := 1; scanner.Scan(); line++ {
		sentence := strings.TrimSpace(scanner.Text())
		if sentence == "" || strings.HasPrefix(sentence, "#") {
			continue
		}

		update, err := interpreter.Interpret(sentence, tracker.ItemNames(), today.Year())
		if err == nil {
			_, err = tracker.ApplyUpdate(update, today)
		}
		if err != nil {
			failed++
			fmt.Fprintf(stderr, "%s:%d: %v\n", opts.Sentences, line, err)
			continue
		}
		applied++
		fmt.Fprintf(stderr, "%s:%d: %s %s %s\n", opts.Sentences, line, update.ItemName, update.Action, service.FormatROC(update.Date))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", opts.Sentences, err)
	}

	if err := writeTable(opts.Out, stdout, tracker, today); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "applied %d, skipped %d\n", applied, failed)
	if opts.Strict && failed > 0 {
		return fmt.Errorf("%d sentences could not be applied", failed)
	}
	return nil
}

func writeTable(path string, stdout io.Writer, tracker *service.Tracker, today time.Time) error {
	if path == "" || path == "-" {
		return service.WriteCSV(stdout, tracker.Export(today))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := service.WriteCSV(f, tracker.Export(today)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
