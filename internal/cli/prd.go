package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/storyloop/internal/prd"
	"github.com/randalmurphal/storyloop/internal/textgen"
)

func newPRDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prd",
		Short: "Write, import and inspect task PRDs",
	}
	cmd.AddCommand(newPRDGenerateCmd())
	cmd.AddCommand(newPRDShowCmd())
	cmd.AddCommand(newPRDImportCmd())
	return cmd
}

func newPRDGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <task-id> <description>",
		Short: "Generate a PRD through clarifying questions",
		Long: `Ask the text-generation provider for clarifying questions about the
description, read an answer for each from stdin, then generate and store the
PRD. Answer with an option number or free text; an empty line skips.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, tc, engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			doc, err := generatePRD(ctx, a, args[0], args[1], cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			printPRD(cmd.OutOrStdout(), doc)
			return nil
		},
	}
}

// generatePRD runs the wizard on the task's engine, prompting on out and
// reading answers from in.
func generatePRD(ctx context.Context, a *app, taskID, description string, in io.Reader, out io.Writer) (*prd.Document, error) {
	e, _ := a.sessions.GetOrCreate(taskID)
	questions, err := e.StartPrdWizard(ctx, description)
	if err != nil {
		return nil, err
	}

	answers := askQuestions(questions, bufio.NewReader(in), out)
	_, _ = fmt.Fprintln(out, "Generating PRD...")
	return e.GeneratePRD(ctx, answers)
}

// askQuestions prints each question and reads one answer line per question.
func askQuestions(questions []textgen.Question, r *bufio.Reader, out io.Writer) []textgen.Answer {
	var answers []textgen.Answer
	for i, q := range questions {
		_, _ = fmt.Fprintf(out, "\n%d. %s\n", i+1, q.Question)
		for j, opt := range q.Options {
			_, _ = fmt.Fprintf(out, "   [%d] %s\n", j+1, opt)
		}
		_, _ = fmt.Fprint(out, "> ")

		line, _ := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(q.Options) {
			line = q.Options[n-1]
		}
		answers = append(answers, textgen.Answer{QuestionID: q.ID, Answer: line})
	}
	return answers
}

func newPRDShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the stored PRD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), tc, engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			doc, err := a.store.LoadPRD(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			printPRD(cmd.OutOrStdout(), doc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "as-json", false, "print prd.json")
	return cmd
}

func newPRDImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <task-id> <prd.json>",
		Short: "Store a hand-written PRD for a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), tc, engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := importPRD(cmd.Context(), a.store, args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %s for %s\n", args[1], args[0])
			return nil
		},
	}
}

// printPRD prints a story checklist.
func printPRD(out io.Writer, doc *prd.Document) {
	_, _ = fmt.Fprintf(out, "%s (%d of %d stories remaining)\n", doc.ProjectName, doc.Remaining(), len(doc.Stories))
	if doc.Description != "" {
		_, _ = fmt.Fprintf(out, "%s\n", doc.Description)
	}
	for _, s := range doc.Stories {
		mark := " "
		if s.Passes {
			mark = "x"
		}
		_, _ = fmt.Fprintf(out, "  [%s] %s  %s (priority %d)\n", mark, s.ID, s.Title, s.Priority)
		for _, c := range s.AcceptanceCriteria {
			_, _ = fmt.Fprintf(out, "        - %s\n", c)
		}
	}
}
