package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aboamare/mms-router/pkg/client"
)

func newSendCommand() *cobra.Command {
	var (
		subject    string
		recipients []string
		body       string
		id         string
		ttl        time.Duration
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a subject or to recipients",
		Long: `Send a message. Address it with --subject, --to or both. The body is sent as
JSON when it parses as JSON and as a string otherwise. Without --id a v4 UUID is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" && len(recipients) == 0 {
				return fmt.Errorf("--subject or --to is required")
			}
			msg := client.Outgoing{
				ID:         id,
				Subject:    subject,
				Recipients: recipients,
				Body:       bodyValue(body),
			}
			if msg.ID == "" {
				msg.ID = uuid.New().String()
			}
			if ttl > 0 {
				msg.Expires = time.Now().Add(ttl).Unix()
			}
			return runSend(cmd, msg, wait)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Topic to send to")
	cmd.Flags().StringSliceVar(&recipients, "to", nil, "Recipient MRNs")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	cmd.Flags().StringVar(&id, "id", "", "Message id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time to live (router default when zero)")
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "How long to wait for an error report")

	return cmd
}

func bodyValue(body string) any {
	var v any
	if json.Unmarshal([]byte(body), &v) == nil {
		return v
	}
	return body
}

func runSend(cmd *cobra.Command, msg client.Outgoing, wait time.Duration) error {
	config, err := clientConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	agent, err := client.Dial(ctx, config)
	if err != nil {
		return err
	}
	defer agent.Close()

	// Registering binds the sender MRN without subscribing to direct messages.
	if config.MRN != "" {
		if err := agent.Register(nil, false); err != nil {
			return err
		}
	}
	if err := agent.Send(msg); err != nil {
		return err
	}

	select {
	case text := <-agent.Errors():
		return fmt.Errorf("router rejected message: %s", text)
	case <-time.After(wait):
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Message %s sent\n", msg.ID)
	return nil
}

func newFetchCommand() *cobra.Command {
	var (
		interests []string
		req       client.DeliverRequest
		idle      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch pending messages",
		Long: `Register with --mrn and the given interests, then ask for pending messages and
print each one as a JSON line. With --key the agent also receives its direct messages
(use the interest "dm" to fetch them).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, interests, req, idle)
		},
	}

	cmd.Flags().StringSliceVar(&interests, "interest", nil, "Topics to register for")
	cmd.Flags().StringSliceVar(&req.Interests, "from", nil, "Topics to deliver from, most important first (default: all interests)")
	cmd.Flags().IntVar(&req.Count, "count", 0, "Maximum number of messages")
	cmd.Flags().IntVar(&req.Chars, "chars", 0, "Maximum total size of the messages")
	cmd.Flags().BoolVar(&req.Latests, "latests", false, "Newest messages first")
	cmd.Flags().Int64Var(&req.Since, "since", 0, "Only messages accepted after this unix time")
	cmd.Flags().DurationVar(&idle, "idle", time.Second, "Stop after this long without a message")

	return cmd
}

func runFetch(cmd *cobra.Command, interests []string, req client.DeliverRequest, idle time.Duration) error {
	config, err := clientConfig()
	if err != nil {
		return err
	}
	if config.MRN == "" {
		return fmt.Errorf("--mrn is required to fetch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	agent, err := client.Dial(ctx, config)
	if err != nil {
		return err
	}
	defer agent.Close()

	if err := agent.Register(interests, config.Signer != nil); err != nil {
		return err
	}
	if err := agent.Deliver(req); err != nil {
		return err
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	count := 0
	for {
		select {
		case msg := <-agent.Messages():
			if err := out.Encode(msg); err != nil {
				return err
			}
			count++
		case text := <-agent.Errors():
			return fmt.Errorf("router error: %s", text)
		case <-agent.Done():
			return fmt.Errorf("connection closed after %d message(s)", count)
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idle):
			fmt.Fprintf(cmd.ErrOrStderr(), "%d message(s) fetched\n", count)
			return nil
		}
	}
}
