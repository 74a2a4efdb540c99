// Command taskwatch tails the task events of one user from the dispatcher's
// websocket stream.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/logging"
)

// Watcher reads task events from the dispatcher.
type Watcher struct {
	conn   *websocket.Conn
	taskID string
}

// Dial connects to the event stream of userID at base.
func Dial(base, userID, taskID string) (*Watcher, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Watcher{conn: conn, taskID: taskID}, nil
}

// Close sends a close frame and closes the connection.
func (w *Watcher) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

// Run prints events until the connection ends. Terminal events of the watched
// task end the run.
func (w *Watcher) Run(print func(domain.TaskEvent)) error {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var event domain.TaskEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		if w.taskID != "" && event.TaskID != w.taskID {
			continue
		}
		print(event)

		if w.taskID != "" && (event.Type == domain.EventTypeTaskCompleted || event.Type == domain.EventTypeTaskFailed) {
			return nil
		}
	}
}

func printEvent(event domain.TaskEvent) {
	ts := time.UnixMilli(event.Ts).Format(time.TimeOnly)
	if len(event.Payload) == 0 {
		fmt.Printf("%s %-15s %s\n", ts, event.Type, event.TaskID)
		return
	}
	fmt.Printf("%s %-15s %s %s\n", ts, event.Type, event.TaskID, event.Payload)
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/v1/events", "Event stream address")
	userID := flag.String("user", "", "User whose task events to watch")
	taskID := flag.String("task", "", "Only show this task and exit when it finishes")
	flag.Parse()

	logger := logging.New("info", "console")
	if *userID == "" {
		logger.Fatal().Msg("-user is required")
	}

	w, err := Dial(*addr, *userID, *taskID)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *addr).Msg("failed to connect")
	}
	defer w.Close()
	logger.Info().Str("user_id", *userID).Msg("watching task events")

	errc := make(chan error, 1)
	go func() { errc <- w.Run(printEvent) }()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case <-interrupt:
		fmt.Println()
	case err := <-errc:
		if err != nil {
			logger.Error().Err(err).Msg("event stream ended")
		}
	}
}
