// huddle CLI - command line client for the huddle messaging API
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/huddleworks/huddle/clients/go/huddle"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("HUDDLE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	userID := os.Getenv("HUDDLE_USER")
	if userID == "" {
		fmt.Fprintln(os.Stderr, "HUDDLE_USER must be set")
		os.Exit(1)
	}

	client := huddle.NewClient(baseURL, userID)
	ctx := context.Background()
	cmd := os.Args[1]

	switch cmd {
	case "rooms":
		rooms, err := client.ListRooms(ctx)
		exitOnError(err)
		for _, r := range rooms {
			badge := ""
			if r.UnreadCount > 0 {
				badge = fmt.Sprintf(" (%d unread)", r.UnreadCount)
			}
			if r.HasUnreadMarker {
				badge += " *"
			}
			fmt.Printf("  %s  %-20s%s\n", r.ID, r.DisplayName, badge)
		}

	case "dm":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: huddle dm <user_id>")
			os.Exit(1)
		}
		room, err := client.CreateDirectRoom(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("Room: %s (%s)\n", room.ID, room.DisplayName)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: huddle read <room_id>")
			os.Exit(1)
		}
		page, err := client.GetMessages(ctx, os.Args[2], 20, "")
		exitOnError(err)
		var ids []string
		for _, msg := range page.Messages {
			edited := ""
			if msg.IsEdited {
				edited = " (edited)"
			}
			ts := msg.CreatedAt.Local().Format("2006-01-02 15:04")
			fmt.Printf("[%s] %s: %s%s\n", ts, msg.SenderID, msg.Content, edited)
			ids = append(ids, msg.ID)
		}
		// Reading from the CLI counts as reading.
		if len(ids) > 0 {
			exitOnError(client.MarkRead(ctx, ids))
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: huddle send <room_id> <message>")
			os.Exit(1)
		}
		msg, err := client.SendMessage(ctx, os.Args[2], strings.Join(os.Args[3:], " "), "", nil)
		exitOnError(err)
		fmt.Printf("Sent: %s\n", msg.ID)

	case "search":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: huddle search <query>")
			os.Exit(1)
		}
		resp, err := client.Search(ctx, strings.Join(os.Args[2:], " "), 20)
		exitOnError(err)
		for _, m := range resp.Results {
			fmt.Printf("[%s] %s: %s\n", m.RoomID, m.SenderID, m.Content)
		}

	case "unread":
		counts, err := client.UnreadCounts(ctx)
		exitOnError(err)
		if len(counts) == 0 {
			fmt.Println("All caught up.")
			return
		}
		for roomID, n := range counts {
			fmt.Printf("  %s  %d unread\n", roomID, n)
		}

	case "watch":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: huddle watch <room_id>")
			os.Exit(1)
		}
		watch(ctx, client, os.Args[2])

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch tails a room through the polling session until interrupted.
func watch(ctx context.Context, client *huddle.Client, roomID string) {
	seen := make(map[string]bool)

	session := huddle.NewSession(client, huddle.SessionHandlers{
		OnRoom: func(u huddle.RoomUpdate) {
			for _, msg := range u.Messages {
				if seen[msg.ID] {
					continue
				}
				seen[msg.ID] = true
				ts := msg.CreatedAt.Local().Format("15:04:05")
				fmt.Printf("[%s] %s: %s\n", ts, msg.SenderID, msg.Content)
			}
			if len(u.Typing) > 0 {
				var names []string
				for _, typer := range u.Typing {
					names = append(names, typer.DisplayName)
				}
				fmt.Printf("... %s typing\n", strings.Join(names, ", "))
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "poll error: %v\n", err)
		},
	})

	session.OpenRoom(ctx, roomID)
	defer session.CloseRoom()
	for {
		time.Sleep(time.Second)
	}
}

func usage() {
	fmt.Println(`huddle CLI - team messaging

Usage: huddle <command> [options]

Commands:
  rooms                   List your rooms with unread badges
  dm <user_id>            Open (or create) a DM
  read <room_id>          Read and acknowledge recent messages
  send <room_id> <text>   Send a message
  watch <room_id>         Tail a room live
  search <query>          Search your rooms
  unread                  Show unread counts
  help                    Show this help

Environment:
  HUDDLE_URL              Server base URL (default http://localhost:8080)
  HUDDLE_USER             Your user id (required)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
