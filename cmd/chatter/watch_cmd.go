package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	chatter "github.com/chattermesh/chatter-go"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("channel", "", "make this channel active and print its sections on change")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live channel and message activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, cfg := getSession()
		ctx := context.Background()

		if err := session.Start(ctx); err != nil {
			return err
		}

		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)
		dim := color.New(color.Faint)

		session.Channels.OnChannelsChanged(func(joined, invited []chatter.Channel) {
			dim.Printf("[channels] %d joined, %d invited\n", len(joined), len(invited))
		})
		session.Channels.OnEvent(func(ev chatter.Event) {
			switch e := ev.(type) {
			case chatter.ChannelEvent:
				yellow.Printf("[channel %s] %s\n", e.Status, e.Channel.ID)
			case chatter.MemberEvent:
				switch e.Status {
				case chatter.MemberEventTypingStarted:
					dim.Printf("[%s] %s is typing...\n", e.ChannelID, e.UserID)
				case chatter.MemberEventTypingEnded:
					// quiet
				default:
					yellow.Printf("[%s] member %s: %s\n", e.ChannelID, e.UserID, e.Status)
				}
			}
		})
		session.Messages.OnSectionsChanged(func(sections []chatter.Section) {
			if len(sections) == 0 {
				return
			}
			last := sections[len(sections)-1]
			if len(last.Messages) == 0 {
				return
			}
			m := last.Messages[len(last.Messages)-1]
			green.Printf("[%s] <%s> %s\n", m.ChannelID, m.Author, renderBody(m.Body))
		})

		if id, _ := cmd.Flags().GetString("channel"); id != "" {
			ch, err := session.Channels.ChannelByID(id)
			if err != nil {
				return err
			}
			session.Channels.SetActive(&ch)
		}

		stream := chatter.NewEventStream(baseURL(cfg), &chatter.StreamConfig{
			Token:         cfg.Auth.Token,
			AutoReconnect: true,
		})
		session.Attach(stream)
		stream.OnDisconnected(func(reason string) {
			dim.Printf("[stream] disconnected: %s\n", reason)
		})
		stream.OnReconnecting(func(attempt int, delay time.Duration) {
			dim.Printf("[stream] reconnecting (attempt %d) in %s\n", attempt, delay)
		})

		if err := stream.Connect(ctx); err != nil {
			return err
		}
		defer stream.Disconnect()
		fmt.Println("Watching. Ctrl-C to stop.")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}
