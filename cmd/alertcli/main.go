package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// alertcli is an interactive subscriber: it sends subscribe/unsubscribe
// commands typed on stdin and prints acks and alerts as they arrive.
func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "hub host:port")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/alerts"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", u.String(), err)
		os.Exit(1)
	}
	defer conn.Close()

	// Receiver prints responses concurrently with the prompt.
	go func() {
		for {
			var resp struct {
				Type      string `json:"type"`
				Message   string `json:"message"`
				Success   *bool  `json:"success"`
				DeviceID  string `json:"device_id"`
				Timestamp string `json:"timestamp"`
			}
			if err := conn.ReadJSON(&resp); err != nil {
				fmt.Fprintf(os.Stderr, "\nconnection closed: %v\n", err)
				os.Exit(0)
			}
			switch resp.Type {
			case "ack":
				ok := resp.Success != nil && *resp.Success
				fmt.Printf("\n[ACK] %s | Success: %v\n> ", resp.Message, ok)
			case "alert":
				fmt.Printf("\n[ALERT] %s: %s at %s\n> ", resp.DeviceID, resp.Message, resp.Timestamp)
			}
		}
	}()

	fmt.Println("Enter commands:")
	fmt.Println("  subscribe client1 device123")
	fmt.Println("  unsubscribe client1 device123")

	type request struct {
		Action   string `json:"action"`
		ClientID string `json:"client_id"`
		DeviceID string `json:"device_id"`
	}

	in := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for in.Scan() {
		parts := strings.Fields(in.Text())
		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}
		if len(parts) != 3 {
			fmt.Println("usage: subscribe|unsubscribe <client_id> <device_id>")
			fmt.Print("> ")
			continue
		}
		action, clientID, deviceID := parts[0], parts[1], parts[2]
		if action != "subscribe" && action != "unsubscribe" {
			fmt.Println("unknown command:", action)
			fmt.Print("> ")
			continue
		}
		if err := conn.WriteJSON(request{Action: action, ClientID: clientID, DeviceID: deviceID}); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			break
		}
		fmt.Print("> ")
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
