package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/orca/internal/events"
	"github.com/mtzanidakis/orca/internal/pool"
)

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(bus *Bus) (*Client, error) {
	return Connect(bus.ClientURL())
}

func Connect(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("orca"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn, logger: slog.Default()}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

func (c *Client) Request(topic string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.Request(topic, data, timeout)
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}

// RunEvent is the envelope published for each workflow event.
type RunEvent struct {
	RunID    string      `json:"runId"`
	Workflow string      `json:"workflow"`
	Type     events.Type `json:"type"`
	Data     any         `json:"data,omitempty"`
}

// Observe publishes every event of run on TopicRunEvents. Publish failures
// are logged and never reach the run.
func (c *Client) Observe(run events.Run) events.Emitter {
	topic := TopicRunEvents(run.ID)
	return func(ev events.Event) {
		err := c.PublishJSON(topic, RunEvent{
			RunID:    run.ID,
			Workflow: run.Workflow,
			Type:     ev.Type,
			Data:     ev.Data,
		})
		if err != nil {
			c.logger.Warn("publish run event", "run", run.ID, "type", ev.Type, "error", err)
		}
	}
}

// HealthChange is published on TopicEventsHealth when a server changes status.
type HealthChange struct {
	Server string      `json:"server"`
	Status pool.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// PublishHealth matches the pool's health change hook.
func (c *Client) PublishHealth(server string, h pool.Health) {
	err := c.PublishJSON(TopicEventsHealth, HealthChange{
		Server: server,
		Status: h.Status,
		Error:  h.LastError,
	})
	if err != nil {
		c.logger.Warn("publish health", "server", server, "error", err)
	}
}

// RunRequest asks a serving process to start a workflow.
type RunRequest struct {
	Workflow string `json:"workflow"`
}

// RunReply answers a RunRequest.
type RunReply struct {
	RunID string `json:"runId,omitempty"`
	Error string `json:"error,omitempty"`
}

// ServeRuns answers RunRequests on TopicRunRequest with start.
func (c *Client) ServeRuns(start func(workflow string) (string, error)) (*nats.Subscription, error) {
	return c.conn.Subscribe(TopicRunRequest, func(msg *nats.Msg) {
		var req RunRequest
		var reply RunReply
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			reply.Error = fmt.Sprintf("decode request: %v", err)
		} else if id, err := start(req.Workflow); err != nil {
			reply.Error = err.Error()
		} else {
			reply.RunID = id
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			c.logger.Warn("respond to run request", "error", err)
		}
	})
}

// RequestRun asks a serving process to start workflow and returns its run id.
func (c *Client) RequestRun(workflow string, timeout time.Duration) (string, error) {
	data, err := json.Marshal(RunRequest{Workflow: workflow})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	msg, err := c.conn.Request(TopicRunRequest, data, timeout)
	if err != nil {
		return "", fmt.Errorf("request run: %w", err)
	}
	var reply RunReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("run %s: %s", workflow, reply.Error)
	}
	return reply.RunID, nil
}
