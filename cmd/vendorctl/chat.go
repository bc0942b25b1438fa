package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	presence "github.com/mycelian/vendor-presence"
)

func newConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List the vendor's conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			convs, err := c.Conversations(ctx)
			if err != nil {
				return err
			}
			for _, conv := range convs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", conv.ID, conv.ParticipantID)
			}
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open conversations and send messages",
	}
	cmd.AddCommand(newChatOpenCmd())
	cmd.AddCommand(newChatSendCmd())
	return cmd
}

func newChatOpenCmd() *cobra.Command {
	var participant, conversationID string
	var follow bool
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Print a conversation, creating it for --participant if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if participant == "" && conversationID == "" {
				return fmt.Errorf("--participant or --conversation is required")
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if follow {
				if err := c.Connect(ctx); err != nil {
					return err
				}
			}

			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			if conversationID == "" {
				conv, err := c.Chat().EnsureConversation(reqCtx, participant)
				if err != nil {
					return err
				}
				conversationID = conv.ID
			}
			ch, err := c.Chat().OpenChannel(reqCtx, conversationID)
			if err != nil {
				return err
			}
			defer ch.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Conversation: %s\n", conversationID)
			printed := printMessages(out, ch.Messages(), 0)
			if !follow {
				return nil
			}

			var deadline <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				deadline = timer.C
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-deadline:
					return nil
				case <-ch.Updates():
					printed = printMessages(out, ch.Messages(), printed)
				}
			}
		},
	}

	cmd.Flags().StringVar(&participant, "participant", "", "Customer id to chat with")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Existing conversation id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing messages as they arrive")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop following after this long (0 waits for SIGINT)")

	return cmd
}

func newChatSendCmd() *cobra.Command {
	var conversationID, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message in a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			msg, err := c.Chat().SendMessage(ctx, conversationID, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Message sent: %s\n", msg.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (required)")
	cmd.Flags().StringVar(&text, "text", "", "Message text (required)")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

// printMessages writes msgs[from:] and returns the new count.
func printMessages(w io.Writer, msgs []presence.Message, from int) int {
	if from > len(msgs) {
		from = 0
	}
	for _, m := range msgs[from:] {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderType, m.Body)
	}
	return len(msgs)
}
