package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const importBatchSize = 5000

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the dedup ledger of processed items",
}

var ledgerImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Mark item ids from a newline-delimited file as processed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "ledger import: open file")
		}
		defer f.Close() //nolint:errcheck

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var added, read int64
		err = readIDs(f, importBatchSize, func(batch []string) error {
			n, err := st.ImportProcessed(ctx, batch)
			if err != nil {
				return err
			}
			added += n
			read += int64(len(batch))
			return nil
		})
		if err != nil {
			return eris.Wrap(err, "ledger import")
		}

		zap.L().Info("ledger import complete",
			zap.String("file", args[0]),
			zap.Int64("read", read),
			zap.Int64("added", added),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "read %d ids, %d new\n", read, added)
		return nil
	},
}

var ledgerCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of processed items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.CountProcessed(ctx)
		if err != nil {
			return eris.Wrap(err, "ledger count")
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

// readIDs streams trimmed, non-blank lines from r to fn in batches.
func readIDs(r io.Reader, batchSize int, fn func([]string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	batch := make([]string, 0, batchSize)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		batch = append(batch, id)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]string, 0, batchSize)
		}
	}
	if err := sc.Err(); err != nil {
		return eris.Wrap(err, "read ids")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func init() {
	ledgerCmd.AddCommand(ledgerImportCmd)
	ledgerCmd.AddCommand(ledgerCountCmd)
	rootCmd.AddCommand(ledgerCmd)
}
