package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development JWT for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, exp, err := devToken(tokenUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", tok, exp.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id")
	_ = tokenCmd.MarkFlagRequired("user")
}
