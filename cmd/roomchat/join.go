package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper/roomchat/internal/client"
	"github.com/whisper/roomchat/internal/lifecycle"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/session"
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and chat from the terminal",
	Long: `Join a room and chat. Every line you type is sent to the room.

Commands:
  /leave   leave the room
  /delete  delete the room for everyone (owner only)
  /quit    same as /leave`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := participant()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		s, err := newClient().OpenSession(ctx, args[0], p)
		cancel()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Joined %q as %s. Type /leave to exit.\n", s.Room().Name, p.Name)
		return chat(cmd.Context(), s, cmd.InOrStdin(), out)
	},
}

// chat prints the session timeline and forwards stdin lines until the user
// leaves or the session ends on its own.
func chat(ctx context.Context, s *client.Session, in io.Reader, out io.Writer) error {
	var printMu sync.Mutex
	show := func(msg protocol.Message) {
		printMu.Lock()
		defer printMu.Unlock()
		printMessage(out, s, msg)
	}

	// History is printed under the same lock, so updates queue behind it.
	printMu.Lock()
	history, unsubscribe := s.Follow(show)
	for _, msg := range history {
		printMessage(out, s, msg)
	}
	printMu.Unlock()
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-s.Done():
			if err := s.Err(); err != nil {
				if errors.Is(err, session.ErrRoomDeleted) {
					fmt.Fprintln(out, "The room was deleted.")
					return nil
				}
				return err
			}
			return nil

		case line, ok := <-lines:
			if !ok {
				return leave(ctx, s)
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/leave", "/quit":
				return leave(ctx, s)
			case "/delete":
				if !s.IsOwner() {
					fmt.Fprintln(out, "Only the room owner can delete this room.")
					continue
				}
				fmt.Fprint(out, "Delete this room for everyone? [y/N] ")
				answer, ok := <-lines
				if !ok || !strings.EqualFold(strings.TrimSpace(answer), "y") {
					fmt.Fprintln(out, "Not deleted.")
					continue
				}
				dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
				nav, err := s.DeleteRoom(dctx)
				cancel()
				if err != nil {
					fmt.Fprintln(out, "Could not delete the room:", err)
				}
				if nav == lifecycle.NavigateAway {
					fmt.Fprintln(out, "Room deleted.")
					return nil
				}
			default:
				if err := s.PostMessage(line); err != nil {
					fmt.Fprintln(out, "Not sent:", err)
				}
			}
		}
	}
}

func leave(ctx context.Context, s *client.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.LeaveRoom(ctx)
	return err
}

func printMessage(out io.Writer, s *client.Session, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.SystemMessage:
		fmt.Fprintf(out, "* %s\n", m.Text)
	case protocol.ChatMessage:
		if s.IsSelf(m) {
			fmt.Fprintf(out, "%s (you): %s\n", m.Author, m.Text)
			return
		}
		fmt.Fprintln(out, m.Render())
	}
}
