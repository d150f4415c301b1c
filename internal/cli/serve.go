package cli

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abelzeko/water-balance/internal/api"
	"github.com/abelzeko/water-balance/internal/refresher"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string
	var noRefresh, noTelegram bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, plus the cache refresher and Telegram bot when configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Authenticate(cmd.Context()); err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}

			g, ctx := errgroup.WithContext(cmd.Context())

			server := api.NewHTTPServer(a.UseCase, a.Logger)
			g.Go(func() error { return server.Run(ctx, addr) })

			if !noRefresh && a.Config.Cache.Enabled && len(a.Config.Refresh.Groups) > 0 {
				r := refresher.New(a.UseCase, refresher.Options{
					Schedule:   a.Config.Refresh.Schedule,
					Groups:     a.Config.Refresh.Groups,
					DateLayout: a.Config.Refresh.StatDateLayout,
					Retention:  a.Config.Cache.RetentionDuration(),
					Logger:     a.Logger.WithPrefix("refresher"),
				})
				g.Go(func() error { return r.Run(ctx) })
			}

			if !noTelegram && a.Config.Telegram.BotToken != "" {
				bot, err := api.NewTelegramBot(a.Config.Telegram.BotToken, a.UseCase,
					a.Config.Refresh.StatDateLayout, a.Logger.WithPrefix("telegram"))
				if err != nil {
					return err
				}
				g.Go(func() error {
					bot.Start(ctx)
					return nil
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "do not run the scheduled cache refresher")
	cmd.Flags().BoolVar(&noTelegram, "no-telegram", false, "do not start the Telegram bot")
	return cmd
}
