package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"

	"github.com/spf13/cobra"
)

var (
	catOutDir   string
	catCompress bool
)

var catCmd = &cobra.Command{
	Use:   "cat [workflow] [name]",
	Short: "Run a workflow and print its output",
	Long: `Run the workflow once against the current heap and write the result to stdout.
With --out every output is written into the directory under its own name instead.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := ""
		if len(args) == 2 {
			name = args[1]
		}

		out, err := NF.RunWorkflow(ctx, args[0], name, pipeline.WithCompression(catCompress))
		if err != nil {
			return fmt.Errorf("cat failed: %w", err)
		}

		for _, n := range out {
			b, err := nut.Materialize(ctx, n)
			if err != nil {
				return fmt.Errorf("cat failed: %w", err)
			}
			if catOutDir == "" {
				// 文本直接显示；二进制可以通过 > file 重定向
				if _, err := cmd.OutOrStdout().Write(b.Data()); err != nil {
					return err
				}
				continue
			}
			dst := filepath.Join(catOutDir, filepath.FromSlash(b.Name()))
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return err
			}
			if err := os.WriteFile(dst, b.Data(), 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✅ %s (%d bytes)\n", dst, b.Len())
		}
		return nil
	},
}

func init() {
	catCmd.Flags().StringVarP(&catOutDir, "out", "o", "", "write outputs into this directory")
	catCmd.Flags().BoolVar(&catCompress, "compress", false, "allow the compress stage to run")
	rootCmd.AddCommand(catCmd)
}
