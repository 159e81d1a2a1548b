package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/storage"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/cobra"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

func openStore(ctx context.Context, logger *zap.SugaredLogger) (*storage.Store, error) {
	var cfg storage.Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	return storage.NewStore(ctx, logger, cfg, storage.ConnectionTimeout(30*time.Second), storage.MaxConns(2))
}

func migrateCommand(ctx context.Context, logger *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Migrate(ctx)
		},
	}
}

func importCommand(ctx context.Context, logger *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "bulk load books from a JSON array, read from stdin when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			records, err := parseBooks(data)
			if err != nil {
				return err
			}

			s, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.ImportBooks(ctx, records)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d books\n", n)
			return nil
		},
	}
}

// parseBooks reads [{"id":..,"title":..,"author":..,"genre":..,"cover_url":..}, ...]
func parseBooks(data []byte) ([]storage.BookRecord, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse books: %w", err)
	}

	items, err := v.Array()
	if err != nil {
		return nil, fmt.Errorf("books must be a JSON array: %w", err)
	}

	records := make([]storage.BookRecord, 0, len(items))
	for i, item := range items {
		r := storage.BookRecord{
			ID:       string(item.GetStringBytes("id")),
			Title:    string(item.GetStringBytes("title")),
			Author:   string(item.GetStringBytes("author")),
			Genre:    string(item.GetStringBytes("genre")),
			CoverURL: string(item.GetStringBytes("cover_url")),
		}
		if r.ID == "" || r.Title == "" {
			return nil, fmt.Errorf("book %d: id and title are required", i)
		}
		records = append(records, r)
	}

	return records, nil
}

func tokenCommand() *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user id>",
		Short: "issue an access token signed with JWT_SECRET, for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg identity.Config
			if err := env.Parse(&cfg); err != nil {
				return err
			}

			tok, err := identity.Issue(cfg, identity.User{ID: args[0], Profile: identity.Profile{Username: username}}, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
