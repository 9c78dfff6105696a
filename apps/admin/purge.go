package main

import (
	"context"
	"fmt"

	"github.com/trezcool/tabula/core/dataset"
)

// purge removes every soft-deleted row of the file.
func (cli *commandLine) purge(fileID int64) error {
	ctx := context.Background()
	if _, err := cli.sessions.GetSessionByID(ctx, fileID); err != nil {
		return err
	}
	n, err := cli.datasets.Purge(ctx, dataset.PurgeTaskFor(fileID))
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "purged %d rows of file %d\n", n, fileID)
	return nil
}
