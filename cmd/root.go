package cmd

import (
	"PPSeq/global/config"
	"PPSeq/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	loader  *config.Loader
)

var rootCmd = &cobra.Command{
	Use:   "ppseq",
	Short: "Sequence allocation and ordered message sync",
	Long: `ppseq 发号 + 消息有序同步。

serve   按 roles 启动 seq/sync/gateway/deliver
client  命令行客户端：上线同步、发消息、接收推送
token   签发开发用 JWT
health  查询 grpc health`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		loader = l
		logger.Init(l.Get().Log.Level)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 入口，错误已打日志
func Execute() error {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%+v", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml), env PPSEQ_* overrides")
	rootCmd.AddCommand(serveCmd, clientCmd, tokenCmd, healthCmd)
}
