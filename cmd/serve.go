package cmd

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"PPSeq/global/config"
	"PPSeq/service/nacos"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveRoles string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run server roles (seq, sync, gateway, deliver)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := loader.Get()
		// 远端配置先于组件构造合并
		if cfg.Nacos.Enabled {
			src, err := nacos.NewConfigClient(cfg.Nacos)
			if err != nil {
				return err
			}
			if err := nacos.Fetch(src, cfg.Nacos.DataId, cfg.Nacos.Group, loader); err != nil {
				return err
			}
			src.CloseClient()
			cfg = loader.Get()
		}
		if serveRoles != "" {
			cfg.Roles = splitRoles(serveRoles)
		}
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		app, err := NewApp(ctx, loader)
		if err != nil {
			return err
		}
		return app.Run(ctx)
	},
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func init() {
	serveCmd.Flags().StringVar(&serveRoles, "roles", "",
		"comma separated roles to run: "+strings.Join([]string{config.RoleSeq, config.RoleSync, config.RoleGateway, config.RoleDeliver}, ","))
}
