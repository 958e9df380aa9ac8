package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/mfaure/git-as-svn/vfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index <repo>",
	Short: "Synchronise a repository's revision index",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var lsCmd = &cobra.Command{
	Use:   "ls <repo> [path]",
	Short: "List a directory as svn clients see it",
	Long: `List a directory as svn clients see it.

Examples:
  gitsvnd ls demo                # Repository root at the latest revision
  gitsvnd ls demo trunk -r 12    # /trunk at revision 12`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "gitsvnd %s\n", cfg.Version)
		return nil
	},
}

var flagRev int64

func init() {
	lsCmd.Flags().Int64VarP(&flagRev, "revision", "r", -1, "Revision to list (default: latest)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	registry := newRegistry(cfg, -1, logrus.NewEntry(logrus.StandardLogger()))
	defer registry.Close()

	h, err := registry.Acquire(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer registry.Release(h)

	latest, err := h.Repo.Sync(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: r%d\n", h.Name, latest)
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	registry := newRegistry(cfg, -1, logrus.NewEntry(logrus.StandardLogger()))
	defer registry.Close()

	repo, release, err := registry.Open(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer release()

	p := vfs.Root
	if len(args) > 1 {
		p = vfs.Clean(args[1])
	}
	return listDir(cmd, repo, p, flagRev)
}

// listDir prints one line per entry in the style of svn ls -v.
func listDir(cmd *cobra.Command, repo vfs.Repository, p string, rev int64) error {
	ctx := cmd.Context()
	if rev < 0 {
		latest, err := repo.LatestRevision(ctx)
		if err != nil {
			return err
		}
		rev = latest
	}
	info, err := repo.RevisionInfo(ctx, rev)
	if err != nil {
		return err
	}
	node, err := info.Node(ctx, p)
	if err != nil {
		return err
	}
	if node == nil || node.Kind() != vfs.KindDir {
		return fmt.Errorf("%s: directory not found in r%d", p, rev)
	}
	return writeListing(ctx, cmd.OutOrStdout(), node)
}

func writeListing(ctx context.Context, out io.Writer, dir vfs.Node) error {
	tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	for child, err := range dir.Entries(ctx) {
		if err != nil {
			return err
		}
		size, err := child.Size(ctx)
		if err != nil {
			return err
		}
		last, err := child.LastChange(ctx)
		if err != nil {
			return err
		}
		name := child.Name()
		sizeCol := ""
		if child.Kind() == vfs.KindDir {
			name += "/"
		} else {
			sizeCol = strconv.FormatInt(size, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t %s\n",
			last.ID(), last.Author(), sizeCol, last.Date().UTC().Format("Jan 02 2006"), name)
	}
	return tw.Flush()
}
