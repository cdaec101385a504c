package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/rules"
)

func newRulesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with match rule sets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Compile a rule set and report warnings without loading it",
		Long: `Compile a rule set document against the matcher registry. The file defaults
to RULES_PATH from the environment.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				path = cfg.RulesPath
			}
			return validateRules(cmd.OutOrStdout(), path)
		},
	})
	return cmd
}

func validateRules(out io.Writer, path string) error {
	doc, err := rules.ReadDocument(path)
	if err != nil {
		return err
	}
	rs, err := rules.Compile(doc, matching.DefaultRegistry())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: version %q, %d rules, matchThreshold %g, possibleMatchThreshold %g\n",
		path, rs.Version, len(rs.Rules), rs.MatchThreshold, rs.PossibleMatchThreshold)
	for _, rule := range rs.Rules {
		fmt.Fprintf(out, "  %-20s %-14s weight=%g blocking=%t field=%s\n", rule.Name, rule.MatcherName, rule.Weight, rule.Blocking, rule.Field)
	}
	for _, warning := range rs.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	return nil
}
