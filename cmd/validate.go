package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtgs-sim/rtgs-sim/sim/policy"
)

func newValidatePolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-policy <file>...",
		Short: "Check decision-tree policy files without running a simulation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePolicies(cmd.OutOrStdout(), args)
		},
	}
}

// validatePolicies reports every violation of every file and fails if
// any file is invalid.
func validatePolicies(w io.Writer, paths []string) error {
	invalid := 0
	for _, path := range paths {
		_, err := policy.LoadFile(path)
		if err == nil {
			fmt.Fprintf(w, "%s: ok\n", path)
			continue
		}
		invalid++
		violations, ok := policy.AsValidationErrors(err)
		if !ok {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "%s: %d violation(s)\n", path, len(violations))
		for _, v := range violations {
			fmt.Fprintf(w, "  - %s\n", v.Error())
		}
		logrus.Debugf("policy %s rejected: %v", path, err)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d policy files invalid", invalid, len(paths))
	}
	return nil
}
