package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/session"
)

type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	var files fileList
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "request timeout")
	fileType := flag.String("file-type", "image", "attachment type for --file (image, video, audio, file)")
	flag.Var(&files, "file", "attach a file to send (repeatable)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "use" {
		need("use", args[1:], 1, "<session>")
		check(session.SetDefault(args[1]))
		return
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "unread":
		n, err := c.UnreadCount(ctx)
		check(err)
		if *jsonFlag {
			outputJSON(map[string]int64{"unread": n})
			return
		}
		fmt.Println(n)
	case "list":
		cmdList(ctx, c, *jsonFlag)
	case "messages":
		need(cmd, rest, 1, "<conversation-id>")
		cmdMessages(ctx, c, rest[0], *jsonFlag)
	case "open":
		need(cmd, rest, 1, "<conversation-id>")
		check(c.Open(ctx, rest[0]))
	case "close":
		check(c.CloseConversation(ctx))
	case "send":
		need(cmd, rest, 2, "<conversation-id> <text...>")
		id, err := c.Send(ctx, rest[0], strings.Join(rest[1:], " "), files, *fileType)
		check(err)
		fmt.Println(id)
	case "retry":
		need(cmd, rest, 1, "<local-id>")
		check(c.Retry(ctx, rest[0]))
	case "react":
		need(cmd, rest, 2, "<message-id> <symbol>")
		check(c.React(ctx, rest[0], rest[1]))
	case "older":
		need(cmd, rest, 1, "<conversation-id>")
		res, err := c.LoadOlder(ctx, rest[0])
		check(err)
		if *jsonFlag {
			outputJSON(res)
			return
		}
		fmt.Printf("Inserted: %v\n", res["inserted"])
		fmt.Printf("Has more: %v\n", res["has_more"])
	case "seen":
		need(cmd, rest, 2, "<conversation-id> <message-id>")
		check(c.MarkSeen(ctx, rest[0], rest[1]))
	case "create":
		need(cmd, rest, 2, "<personal|group> <user-id...>")
		conv, err := c.CreateConversation(ctx, rest[0], rest[1:])
		check(err)
		if *jsonFlag {
			outputJSON(conv)
			return
		}
		fmt.Println(conv["id"])
	case "delete":
		need(cmd, rest, 1, "<conversation-id>")
		check(c.DeleteConversation(ctx, rest[0]))
	case "rename":
		need(cmd, rest, 2, "<conversation-id> <name...>")
		check(c.Rename(ctx, rest[0], strings.Join(rest[1:], " ")))
	case "nick":
		need(cmd, rest, 3, "<conversation-id> <user-id> <nickname...>")
		check(c.ChangeNickname(ctx, rest[0], rest[1], strings.Join(rest[2:], " ")))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  use <session>                   Make <session> the default session")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon and connection status")
	fmt.Fprintln(os.Stderr, "  unread                          Print the unread conversation count")
	fmt.Fprintln(os.Stderr, "  watch                           Print the unread count on every change")
	fmt.Fprintln(os.Stderr, "  list                            List conversations")
	fmt.Fprintln(os.Stderr, "  messages <conv>                 Show loaded history")
	fmt.Fprintln(os.Stderr, "  open <conv> | close             Set or clear the active conversation")
	fmt.Fprintln(os.Stderr, "  send [--file f] <conv> <text>   Send a message")
	fmt.Fprintln(os.Stderr, "  retry <local-id>                Resend a failed message")
	fmt.Fprintln(os.Stderr, "  react <msg> <symbol>            React to a message")
	fmt.Fprintln(os.Stderr, "  older <conv>                    Load one more page of history")
	fmt.Fprintln(os.Stderr, "  seen <conv> <msg>               Mark a message seen")
	fmt.Fprintln(os.Stderr, "  create <kind> <user...>         Create a conversation")
	fmt.Fprintln(os.Stderr, "  delete <conv>                   Delete a conversation")
	fmt.Fprintln(os.Stderr, "  rename <conv> <name>            Rename a group conversation")
	fmt.Fprintln(os.Stderr, "  nick <conv> <user> <nickname>   Change a participant's nickname")
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	check(err)
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session:       %v\n", st["session"])
	fmt.Printf("User:          %v\n", st["user_id"])
	fmt.Printf("State:         %v (since %v)\n", st["state"], st["state_since"])
	fmt.Printf("Uptime:        %vms\n", st["uptime_ms"])
	fmt.Printf("Conversations: %v\n", st["conversations"])
	fmt.Printf("Unread:        %v\n", st["unread"])
	if active, _ := st["active"].(string); active != "" {
		fmt.Printf("Active:        %s (%v failed)\n", active, st["active_failed"])
	}
}

func cmdWatch(ctx context.Context, c *api.Client, jsonOut bool) {
	err := c.WatchUnread(ctx, func(n int64) {
		if jsonOut {
			outputJSON(map[string]any{"unread": n, "at": time.Now().Format(time.RFC3339)})
			return
		}
		fmt.Printf("%s unread=%d\n", time.Now().Format("15:04:05"), n)
	})
	check(err)
}

func cmdList(ctx context.Context, c *api.Client, jsonOut bool) {
	convs, err := c.Conversations(ctx)
	check(err)
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range convs {
		marker := " "
		if unread, _ := conv["unread"].(bool); unread {
			marker = "*"
		}
		name, _ := conv["display_name"].(string)
		if name == "" {
			name, _ = conv["name"].(string)
		}
		preview := ""
		if m, ok := conv["newest_message"].(map[string]any); ok {
			preview, _ = m["content"].(string)
		}
		fmt.Printf("%s %-24v %-20s %s\n", marker, conv["id"], name, preview)
	}
}

func cmdMessages(ctx context.Context, c *api.Client, conversationID string, jsonOut bool) {
	msgs, err := c.Messages(ctx, conversationID)
	check(err)
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		state, _ := m["status"].(string)
		if pending, _ := m["pending"].(bool); pending {
			state = "SENDING"
		}
		if failed, _ := m["failed"].(bool); failed {
			state = fmt.Sprintf("FAILED (%v)", m["failure_reason"])
		}
		fmt.Printf("%-38v %-12v %-10s %v\n", m["id"], m["sender_id"], state, m["content"])
	}
}

func need(cmd string, args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: chatsyncctl %s %s\n", cmd, usage)
		os.Exit(1)
	}
}

func check(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
