package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/spf13/cobra"
)

func newArtifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect and promote registered artifacts",
	}
	cmd.AddCommand(newArtifactsListCmd())
	cmd.AddCommand(newArtifactsAliasCmd())
	return cmd
}

func newArtifactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <name>",
		Short: "List every version of an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := parseCLIConfig(cmd, nil)
			if err != nil {
				return err
			}
			cfg, err := cli.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			versions, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tALIASES\tTYPE\tSIZE\tCREATED\tDIGEST")
			for _, art := range versions {
				aliases := append([]string(nil), art.Aliases...)
				sort.Strings(aliases)
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					domain.VersionTag(art.Version),
					strings.Join(aliases, ","),
					art.Type,
					art.Size,
					art.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
					shortDigest(art.Digest),
				)
			}
			return w.Flush()
		},
	}
}

func newArtifactsAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias <name:tag> <alias>",
		Short: "Point an alias such as prod or reference at an artifact version",
		Long: `Point an alias at the version a reference resolves to, moving the alias
from any other version. Promoting a model export to "prod" enables the
test_regression_model step; aliasing a cleaned sample as "reference" is what
data_check compares new data against.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := parseCLIConfig(cmd, nil)
			if err != nil {
				return err
			}
			cfg, err := cli.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			ref, err := domain.ParseArtifactRef(args[0])
			if err != nil {
				return err
			}
			art, err := store.SetAlias(cmd.Context(), ref, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s -> %s\n", art.Name, args[1], art.Ref())
			return nil
		},
	}
}

func shortDigest(digest string) string {
	digest = strings.TrimPrefix(digest, "sha256:")
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
