package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := run(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cmd := &cobra.Command{
		Use:          "shelfctl",
		Short:        "bookshelf maintenance: schema migrations, catalog import and test tokens",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		migrateCommand(ctx, sugar),
		importCommand(ctx, sugar),
		tokenCommand(),
	)

	return cmd.ExecuteContext(ctx)
}
