package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"PPSeq/module/chat/model"
	"PPSeq/module/client"
	"PPSeq/tools/security"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	cliServer    string
	cliUser      string
	cliTo        string
	cliGroup     string
	cliText      string
	cliWait      time.Duration
	cliCursorRDB string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect as a user, sync offline messages, optionally send one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cfg := loader.Get()
		out := cmd.OutOrStdout()

		opts := client.OptionsFromConfig(cfg.Client)
		if cliServer != "" {
			opts.Server = cliServer
		}
		if cfg.Auth.Enabled {
			tok, _, err := devToken(cliUser)
			if err != nil {
				return err
			}
			opts.Token = tok
		} else {
			opts.AnonymousWS = true
		}
		if cliCursorRDB != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cliCursorRDB})
			defer rdb.Close()
			opts.Cursors = client.NewRedisCursorStore(rdb)
		}
		opts.OnMessage = func(m *model.Message) {
			fmt.Fprintf(out, "[%s #%d] %s -> %s: %s\n", m.Stream, m.Seq, m.From, m.To, m.Content)
		}
		opts.OnFailed = func(p client.PendingMessage) {
			fmt.Fprintf(out, "send failed clientSeq=%s retries=%d\n", p.ClientSeq, p.RetryCount)
		}

		c := client.New(cliUser, client.NewHTTPAPI(opts.Server, opts.Token, opts.RequestTimeout), opts)
		defer c.Close()

		rep, err := c.Connect(ctx)
		if err != nil && rep.Batches == 0 {
			return err
		}
		fmt.Fprintf(out, "synced batches=%d messages=%d cursor=%d\n", rep.Batches, rep.Messages, rep.Cursor)

		if cliGroup != "" {
			grep, err := c.SyncGroup(ctx, cliGroup)
			if err != nil {
				fmt.Fprintf(out, "group sync incomplete: %v\n", err)
			}
			fmt.Fprintf(out, "group %s synced messages=%d cursor=%d\n", cliGroup, grep.Messages, grep.Cursor)
		}

		if cliText != "" {
			to, convType := cliTo, model.ConvTypePrivate
			if to == "" && cliGroup != "" {
				to, convType = cliGroup, model.ConvTypeGroup
			}
			cs, err := c.Send(ctx, to, convType, cliText)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sent clientSeq=%s\n", cs)
		}

		select {
		case <-ctx.Done():
		case <-time.After(cliWait):
		}
		return nil
	},
}

// devToken 用本地配置的密钥签发，只用于开发联调
func devToken(user string) (string, time.Time, error) {
	a := loader.Get().Auth
	opts := security.DefaultOptions([]byte(a.Secret))
	opts.TTL = a.TTL
	return security.Generate(opts, user)
}

func init() {
	f := clientCmd.Flags()
	f.StringVar(&cliServer, "server", "", "server base url, default client.server")
	f.StringVarP(&cliUser, "user", "u", "", "user id")
	f.StringVar(&cliTo, "to", "", "peer user id for a private message")
	f.StringVar(&cliGroup, "group", "", "group id to sync (and send to when --to is empty)")
	f.StringVar(&cliText, "text", "", "message content to send")
	f.DurationVar(&cliWait, "wait", 10*time.Second, "stay online for pushes before exiting")
	f.StringVar(&cliCursorRDB, "cursor-redis", "", "redis addr for persistent cursors")
	_ = clientCmd.MarkFlagRequired("user")
}
