package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Minimal interactive administrator client for poking at a running server.
// Creates a room over HTTP, attaches the admin socket and turns stdin
// commands into protocol messages.

type createRoomResponse struct {
	RoomCode        string `json:"roomCode"`
	AdministratorID string `json:"administratorId"`
}

func createRoom(host string) (createRoomResponse, error) {
	var out createRoomResponse
	resp, err := http.Post("http://"+host+"/rooms", "application/json", nil)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

func send(c *websocket.Conn, msg map[string]any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	log.Printf("-> SEND %s", payload)
	return c.WriteMessage(websocket.TextMessage, payload)
}

func main() {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	host := "localhost:8080"
	if len(os.Args) > 1 {
		host = os.Args[1]
	}

	room, err := createRoom(host)
	if err != nil {
		log.Fatalf("Create room failed: %v", err)
	}
	log.Printf("Room %s created, administrator %s", room.RoomCode, room.AdministratorID)

	u := url.URL{Scheme: "ws", Host: host, Path: "/ws/game/admin/" + room.RoomCode}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			log.Printf("<- RECV %s", message)
		}
	}()

	if err := send(c, map[string]any{
		"type":            "ADMIN_JOIN",
		"requestId":       uuid.NewString(),
		"administratorId": room.AdministratorID,
	}); err != nil {
		log.Fatalf("Join failed: %v", err)
	}

	log.Println("Commands: 'init <rounds>', 'start', 'quit'.")

	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupted, closing connection.")
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "init":
			rounds := 3
			if len(fields) > 1 {
				if n, err := strconv.Atoi(fields[1]); err == nil {
					rounds = n
				}
			}
			send(c, map[string]any{
				"type":            "INIT",
				"requestId":       uuid.NewString(),
				"administratorId": room.AdministratorID,
				"totalRound":      rounds,
			})
		case "start":
			send(c, map[string]any{
				"type":            "START_GAME",
				"requestId":       uuid.NewString(),
				"administratorId": room.AdministratorID,
			})
		case "quit":
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		default:
			log.Printf("Unknown command %q", fields[0])
		}
	}
}
