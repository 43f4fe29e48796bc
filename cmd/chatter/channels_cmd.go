package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	chatter "github.com/chattermesh/chatter-go"
)

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.Flags().Bool("invited", false, "list pending invitations instead of joined channels")
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels, most recent activity first",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := getSession()
		ctx := context.Background()

		if err := session.Start(ctx); err != nil {
			return err
		}

		invited, _ := cmd.Flags().GetBool("invited")
		var list []chatter.Channel
		var heading string
		if invited {
			list = session.Channels.Invited()
			heading = "Invitations"
		} else {
			list = session.Channels.Joined()
			heading = "Joined channels"
		}

		bold := color.New(color.Bold)
		dim := color.New(color.Faint)
		bold.Printf("%s (%d)\n", heading, len(list))
		if len(list) == 0 {
			dim.Println("  none")
			return nil
		}
		for _, ch := range list {
			name := ch.Name
			if name == "" {
				name = ch.UniqueName
			}
			fmt.Printf("  %-28s", name)
			dim.Printf("  %d members, active %s\n",
				ch.MemberCount, ch.LastActivity.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}
