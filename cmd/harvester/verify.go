package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"hcharvest/internal/validator"
)

var errInvalidOutput = errors.New("output tree has problems")

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [dir]",
		Short: "Check a harvested tree: frontmatter hashes, image links and the index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			root := cfg.Output.BasePath
			if len(args) == 1 {
				root = args[0]
			}

			result, err := validator.NewOutputVerifier(root, cfg.Output.Frontmatter).VerifyTree()
			if err != nil {
				return err
			}

			printVerification(cmd.OutOrStdout(), result)

			if !result.IsValid {
				return fmt.Errorf("%w: %d errors", errInvalidOutput, len(result.Errors))
			}

			return nil
		},
	}
}
