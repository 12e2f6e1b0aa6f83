package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"hcharvest/internal/formatter"
	"hcharvest/pkg/metadata"
	"hcharvest/pkg/utils"
)

var errUnformatted = errors.New("files need formatting")

// newFormatCmd re-aligns tables in hand-edited articles and re-signs their frontmatter.
func newFormatCmd(opts *options) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "format [dir]",
		Short: "Re-align Markdown tables and refresh content hashes (dry-run unless --write)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			target := cfg.ArticlesDir()
			if len(args) == 1 {
				target = args[0]
			}

			return formatTree(cmd.OutOrStdout(), target, write)
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write changes to files")

	return cmd
}

func formatTree(w io.Writer, target string, write bool) error {
	var scanned, changed, failed int

	err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != target {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.ToLower(filepath.Ext(path)) != ".md" {
			return nil
		}

		scanned++

		wasChanged, procErr := formatFile(path, write)

		switch {
		case procErr != nil:
			failed++

			fmt.Fprintf(w, "❌ %s: %v\n", path, procErr)
		case wasChanged && write:
			changed++

			fmt.Fprintf(w, "✅ Formatted: %s\n", path)
		case wasChanged:
			changed++

			fmt.Fprintf(w, "📝 Would format: %s\n", path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", target, err)
	}

	fmt.Fprintf(w, "Scanned: %d  Changed: %d  Errors: %d\n", scanned, changed, failed)

	if failed > 0 {
		return fmt.Errorf("%d files could not be formatted", failed)
	}

	if changed > 0 && !write {
		return fmt.Errorf("%w: %d (run with --write)", errUnformatted, changed)
	}

	return nil
}

// formatFile formats one article. Frontmatter is kept and its hash recomputed.
func formatFile(path string, write bool) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	original := string(content)

	fm, body, err := metadata.Extract(original)
	if err != nil && !errors.Is(err, metadata.ErrNoFrontmatter) {
		return false, err
	}

	formatted, err := formatter.FormatMarkdown(body)
	if err != nil {
		return false, err
	}

	if fm != nil {
		formatted, err = metadata.Render(*fm, formatted)
		if err != nil {
			return false, err
		}
	}

	if formatted == original {
		return false, nil
	}

	if write {
		if err := utils.WriteFileAtomic(path, []byte(formatted), 0o644); err != nil {
			return false, err
		}
	}

	return true, nil
}
