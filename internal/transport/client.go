package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a remote node attached to a broker over websocket.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]func([]byte)
	errs     chan error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the broker at addr (host:port or ws:// URL). A non-empty
// token is sent as a bearer credential.
func Dial(ctx context.Context, addr, token string) (*Client, error) {
	target, err := busURL(addr)
	if err != nil {
		return nil, err
	}
	header := nethttp.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	c := &Client{
		conn:     conn,
		handlers: make(map[string]func([]byte)),
		errs:     make(chan error, 16),
		done:     make(chan struct{}),
	}
	go c.read()
	return c, nil
}

func busURL(addr string) (string, error) {
	if addr == "" {
		return "", errors.New("empty broker address")
	}
	parsed, err := url.Parse(addr)
	if err != nil || parsed.Host == "" {
		parsed = &url.URL{Scheme: "ws", Host: addr}
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported broker scheme %q", parsed.Scheme)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = BusPath
	}
	return parsed.String(), nil
}

// Advertise announces a topic the client will publish on.
func (c *Client) Advertise(topic string) error {
	return c.send(frame{Op: opAdvertise, Topic: topic})
}

// Publish encodes msg as JSON and sends it on topic.
func (c *Client) Publish(topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return c.send(frame{Op: opPublish, Topic: topic, Data: data})
}

// Subscribe routes messages on topic to handler on the client's read
// goroutine.
func (c *Client) Subscribe(topic string, handler func([]byte)) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	return c.send(frame{Op: opSubscribe, Topic: topic})
}

// Errors yields error frames reported by the broker.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) send(msg frame) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) read() {
	defer close(c.done)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg frame
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Op {
		case opMessage:
			c.mu.Lock()
			handler := c.handlers[msg.Topic]
			c.mu.Unlock()
			if handler != nil {
				handler(msg.Data)
			}
		case opError:
			select {
			case c.errs <- fmt.Errorf("broker: %s: %s", msg.Topic, msg.Error):
			default:
			}
		}
	}
}
