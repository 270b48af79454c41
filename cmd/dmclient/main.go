// Command dmclient is a terminal client for dmchat.
//
//	/list            show conversations
//	/open <id>       open a conversation
//	/find <text>     search people by name or email
//	/start <userId>  start a conversation
//	/typing          tell the other side you are typing
//	/quit            leave
//
// Any other line is sent to the open conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dmchat/internal/client"
	"dmchat/internal/models"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	baseURL := flag.String("url", "http://localhost:8080", "Server base URL")
	assertion := flag.String("assertion", os.Getenv("DMCHAT_ASSERTION"), "Identity assertion (see cmd/idtoken)")
	flag.Parse()

	if *assertion == "" {
		return errors.New("an identity assertion is required")
	}

	remote := client.NewRemote(*baseURL, nil)
	me, err := remote.Login(ctx, *assertion)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s <%s>\n", me.Name, me.Email)

	if err := remote.Dial(ctx); err != nil {
		return err
	}

	var session *client.Session
	session = client.NewSession(ctx, remote, me.ID, client.OnChange(func() {
		for _, r := range session.SearchResults() {
			fmt.Printf("  found %s <%s> id=%s online=%t\n", r.Name, r.Email, r.ID, r.Online)
		}
	}))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return remote.Listen(gCtx, func(msg models.ServerMessage) {
			printUpdate(session, me.ID, msg, session.Apply(msg))
		})
	})
	g.Go(func() error {
		session.RunPresence(gCtx)
		return nil
	})
	g.Go(func() error {
		return readInput(gCtx, session)
	})

	session.Start()
	return g.Wait()
}

func readInput(ctx context.Context, session *client.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return context.Canceled
			}
			if err := handleLine(session, line); err != nil {
				return err
			}
		}
	}
}

func handleLine(session *client.Session, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit":
		return context.Canceled
	case "/list":
		for _, c := range session.Conversations() {
			marker := " "
			if c.ConversationID == session.Selected() {
				marker = "*"
			}
			fmt.Printf("%s %s  %s  (%d unread)  %s\n", marker, c.ConversationID, c.ParticipantName, c.UnreadCount, c.LastMessage)
		}
	case "/open":
		session.Select(arg)
	case "/find":
		session.SetSearchInput(arg)
	case "/start":
		if !session.StartConversation(arg) {
			fmt.Println("Please wait a moment before starting another conversation.")
		}
	case "":
		session.StopTyping()
	case "/typing":
		session.InputActivity()
	default:
		if !session.Send(line) {
			fmt.Println("Message not sent.")
		}
	}
	return nil
}

func printUpdate(session *client.Session, me string, msg models.ServerMessage, action client.ScrollAction) {
	switch msg.Type {
	case models.ServerMessageTypeMessages:
		if msg.ConversationID != session.Selected() || action == client.ScrollNone {
			return
		}
		msgs := session.Messages()
		if action == client.ScrollInstant {
			for _, m := range msgs {
				printMessage(me, m)
			}
			return
		}
		printMessage(me, msgs[len(msgs)-1])
	case models.ServerMessageTypeTyping:
		for _, u := range msg.Typing {
			fmt.Printf("  %s is typing...\n", u.Name)
		}
	case models.ServerMessageTypeError:
		fmt.Printf("! %s\n", msg.Error)
	}
}

func printMessage(me string, m models.Message) {
	who := m.SenderID
	if who == me {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", time.UnixMilli(m.CreatedAt).Format(time.Kitchen), who, m.Content)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client error", "error", err)
		os.Exit(1)
	}
}
