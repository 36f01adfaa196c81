package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/maltedev/tablegen/internal/config"
	"github.com/maltedev/tablegen/internal/fetch"
	"github.com/maltedev/tablegen/internal/render"
	"github.com/maltedev/tablegen/internal/scraper"
	"github.com/maltedev/tablegen/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	extractFile   string
	extractFields []string
	extractFormat string
	extractOutput string
)

func init() {
	extractCmd.Flags().StringVarP(&extractFile, "file", "f", "", "Read URLs from a file, one per line. '#' starts a comment.")
	extractCmd.Flags().StringSliceVar(&extractFields, "fields", nil, "Columns to include, e.g. name,price. Defaults to all.")
	extractCmd.Flags().StringVar(&extractFormat, "format", "md", "Output format: json, csv, xlsx, md or html.")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "-", "Write to this file instead of stdout.")
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract [urls...] [--file <urls.txt>]",
	Short: "Extracts product rows from the given pages and prints them as a table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, "text")

		format, err := render.ParseFormat(extractFormat)
		if err != nil {
			return err
		}
		if format == render.FormatXLSX && extractOutput == "-" {
			return errors.New("xlsx output needs --output <file>")
		}

		urls := args
		if extractFile != "" {
			f, err := os.Open(extractFile)
			if err != nil {
				return err
			}
			fromFile, err := readURLs(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", extractFile, err)
			}
			urls = append(urls, fromFile...)
		}
		if len(urls) == 0 {
			return errors.New("no urls given")
		}

		service := scraper.NewService(fetch.NewRetriever(fetch.Options{
			Timeout:          cfg.Fetcher.Timeout,
			MaxRedirects:     cfg.Fetcher.MaxRedirects,
			UserAgent:        cfg.Fetcher.UserAgent,
			AcceptLanguage:   cfg.Fetcher.AcceptLanguage,
			MaxBodyBytes:     cfg.Fetcher.MaxBodyBytes,
			CloudflareBypass: cfg.Fetcher.CloudflareBypass,
		}, log), scraper.Config{
			ConcurrencyLimit: cfg.Pipeline.ConcurrencyLimit,
			ListingThreshold: cfg.Pipeline.ListingThreshold,
		}, log)

		rows := service.ExtractBatch(cmd.Context(), urls)

		failed := 0
		for _, r := range rows {
			if r.Failed() {
				failed++
			}
		}
		log.Info("extraction finished", "urls", len(urls), "rows", len(rows), "errors", failed)

		out, err := render.Render(format, rows, extractFields)
		if err != nil {
			return err
		}

		if extractOutput == "-" {
			_, err = cmd.OutOrStdout().Write(out.Body)
			return err
		}
		if err := os.WriteFile(extractOutput, out.Body, 0o644); err != nil {
			return err
		}
		log.Info("table written", "path", extractOutput, "bytes", len(out.Body))
		return nil
	},
}

// readURLs returns the non-blank lines of r that are not comments.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
