package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"text/tabwriter"
)

func splitLanguages(s string) []string {
	var out []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func disableAgent(ctx context.Context, s storage.AgentStore, id string) error {
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	a.Active = false
	return s.SaveAgent(ctx, a)
}

func listAgents(ctx context.Context, s storage.AgentStore, w io.Writer) error {
	agents, err := s.ListAgents(ctx, false)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLANGUAGES\tMAX\tTELEGRAM\tACTIVE")
	for _, a := range agents {
		chat := "-"
		if a.TelegramChatID != nil {
			chat = fmt.Sprint(*a.TelegramChatID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%t\n",
			a.ID, a.DisplayName, strings.Join(a.Languages, ","), a.MaxSessions, chat, a.Active)
	}
	return tw.Flush()
}

// parseVisitor accepts a visitor key or a bare user ID.
func parseVisitor(s string) (models.VisitorIdentity, error) {
	if strings.HasPrefix(s, "user:") || strings.HasPrefix(s, "conn:") {
		return models.ParseVisitorKey(s)
	}
	v := models.Authenticated(s)
	return v, v.Validate()
}

func printTranscript(ctx context.Context, s storage.MessageStore, who string, w io.Writer) error {
	visitor, err := parseVisitor(who)
	if err != nil {
		return err
	}
	msgs, err := s.ListByVisitor(ctx, visitor)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(w, "No messages for %s.\n", visitor)
		return nil
	}
	for _, m := range msgs {
		from := visitor.String()
		if m.Direction() == models.ToVisitor {
			from = "agent:" + m.Agent()
		}
		fmt.Fprintf(w, "%s  %-20s %s\n", m.SentAt.Format("2006-01-02 15:04:05"), from, m.Content)
	}
	return nil
}
