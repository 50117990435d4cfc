package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newBlobCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Manage stored message payloads",
	}
	cmd.AddCommand(newBlobPutCmd(opts), newBlobGetCmd(opts), newBlobDeleteCmd(opts), newBlobClearCmd(opts))
	return cmd
}

func newBlobPutCmd(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "put <tenant> <recordId> <dataCid>",
		Short: "Store a payload read from --file or stdin",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			res, err := opts.client().PutBlob(cmd.Context(), args[0], args[1], args[2], in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Stored %s (%d bytes)\n", res.DataCID, res.DataSize)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "File to upload (default: stdin)")
	return cmd
}

func newBlobGetCmd(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get <tenant> <recordId> <dataCid>",
		Short: "Write a payload to --out or stdout",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := opts.client().GetBlob(cmd.Context(), args[0], args[1], args[2], w)
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %d bytes to %s\n", n, out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	return cmd
}

func newBlobDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant> <recordId> <dataCid>",
		Short: "Delete a payload",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteBlob(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Deleted")
			return nil
		},
	}
}

func newBlobClearCmd(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the blob store without --yes")
			}
			if err := opts.client().ClearBlobs(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Blob store cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing every tenant's payloads")
	return cmd
}
