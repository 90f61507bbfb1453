package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/audibible/narrator/internal/api/middleware"
	"github.com/audibible/narrator/internal/bible"
	"github.com/audibible/narrator/internal/chunker"
)

func booksAction(ctx context.Context, cmd *cli.Command) error {
	names := bible.BookNames()
	if q := cmd.String("search"); q != "" {
		names = bible.SearchBooks(q)
	}
	for _, name := range names {
		n, _ := bible.ChapterCount(name)
		fmt.Printf("%-16s %3d\n", name, n)
	}
	return nil
}

func chunkAction(ctx context.Context, cmd *cli.Command) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}

	chunks := chunker.Split(string(data), chunker.Options{
		MaxSentences: int(cmd.Int("max-sentences")),
		MaxChars:     int(cmd.Int("max-chars")),
	})
	for i, c := range chunks {
		fmt.Printf("--- chunk %d (%d chars)\n%s\n", i+1, len(c), c)
	}
	return nil
}

func hashPasswordAction(ctx context.Context, cmd *cli.Command) error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := middleware.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
