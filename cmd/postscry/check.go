package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/dom"
)

func newCheckBrowserCmd() *cobra.Command {
	var (
		url         string
		withCookies bool
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check-browser",
		Short: "Launch Chrome, open a page and print what it sees",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if url == "" {
				url = cfg.Browser.PlatformURL
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			d, err := browser.NewChromeDriver(ctx, cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("browser check failed: %w", err)
			}
			defer d.Close()

			if withCookies {
				creds := &browser.FileCredentialProvider{Path: cfg.Browser.CookiesFile, DefaultDomain: cfg.Browser.CookieDomain}
				cookies, err := creds.LoadCookies(ctx)
				if err != nil {
					return err
				}
				if err := d.Navigate(ctx, cfg.Browser.PlatformURL); err != nil {
					return fmt.Errorf("browser check failed: %w", err)
				}
				if err := d.SetCookies(ctx, cookies); err != nil {
					return fmt.Errorf("browser check failed: %w", err)
				}
				logger.Info("Cookies injected", zap.Int("count", len(cookies)))
			}

			if err := d.Navigate(ctx, url); err != nil {
				return fmt.Errorf("browser check failed: %w", err)
			}
			location, err := d.Location(ctx)
			if err != nil {
				return fmt.Errorf("browser check failed: %w", err)
			}
			page, err := d.HTML(ctx)
			if err != nil {
				return fmt.Errorf("browser check failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Browser check PASSED")
			fmt.Fprintf(out, "  - location: %s\n", location)
			fmt.Fprintf(out, "  - html bytes: %d\n", len(page))
			fmt.Fprintf(out, "  - text: %s\n", dom.Summarize(page, 200))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page to open (default: browser.platformURL)")
	cmd.Flags().BoolVar(&withCookies, "cookies", false, "inject the configured cookie file first")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall time limit")
	return cmd
}
