package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	chatter "github.com/chattermesh/chatter-go"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("pages", 1, "number of backward pages to load after the initial batch")
	historyCmd.Flags().Int("batch", 0, "messages per page (default: configured batch_size)")
}

var historyCmd = &cobra.Command{
	Use:   "history <channel-id>",
	Short: "Print a conversation's history, paginating backward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, cfg := getSession()
		ctx := context.Background()

		if err := session.Start(ctx); err != nil {
			return err
		}
		ch, err := session.Channels.ChannelByID(args[0])
		if err != nil {
			return err
		}
		session.Channels.SetActive(&ch)

		batch, _ := cmd.Flags().GetInt("batch")
		if batch <= 0 {
			batch = cfg.Default.BatchSize
		}
		if batch <= 0 {
			batch = chatter.DefaultBatchSize
		}

		sections, err := session.Messages.LoadInitial(ctx, batch)
		if err != nil {
			return err
		}

		pages, _ := cmd.Flags().GetInt("pages")
		for i := 0; i < pages; i++ {
			more, err := session.Messages.LoadBefore(ctx, batch)
			if err != nil {
				if errors.Is(err, chatter.ErrPaginationInProgress) {
					continue
				}
				return err
			}
			if more == nil {
				break // oldest message reached
			}
			sections = more
		}

		printSections(sections)

		unread := session.Messages.UnreadMessages()
		if len(unread) > 0 {
			color.New(color.FgYellow).Printf("\n%d unread\n", len(unread))
		}
		return nil
	},
}

func printSections(sections []chatter.Section) {
	day := color.New(color.Bold, color.FgCyan)
	dim := color.New(color.Faint)
	for _, sec := range sections {
		day.Printf("── %s ──\n", sec.Day.Format("Mon, 02 Jan 2006"))
		for _, m := range sec.Messages {
			dim.Printf("%s ", m.CreatedAt.Local().Format("15:04"))
			fmt.Printf("<%s> %s", m.Author, renderBody(m.Body))
			if m.Status == chatter.StatusError {
				color.New(color.FgRed).Print("  [failed]")
			}
			fmt.Println()
		}
	}
}

func renderBody(b chatter.MessageBody) string {
	switch b.Type {
	case chatter.BodyText, chatter.BodyEmoji, chatter.BodySystem:
		return b.Text
	case chatter.BodyRich:
		if b.Text != "" {
			return b.Text
		}
		return b.Markup
	case chatter.BodyPhoto, chatter.BodyVideo, chatter.BodyAudio:
		return fmt.Sprintf("[%s] %s", b.Type, b.MediaURL)
	case chatter.BodyLocation:
		return fmt.Sprintf("[location] %.5f,%.5f", b.Latitude, b.Longitude)
	case chatter.BodyContact:
		return fmt.Sprintf("[contact] %s (%s)", b.ContactName, b.ContactHandle)
	}
	return string(b.Type)
}
