package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a thin synchronous client for one-shot control requests,
// used by the `vpnconcentrator status` CLI command.
type Client struct {
	addr string
}

// NewClient builds a Client targeting addr (e.g. "127.0.0.1:9001").
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Call issues one request and waits for its response, or timeout.
func (c *Client) Call(method string, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("tcp", c.addr, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("control: dial %s: %w", c.addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if err := json.NewEncoder(conn).Encode(Request{Method: method}); err != nil {
		return Response{}, fmt.Errorf("control: send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("control: read response: %w", err)
		}
		return Response{}, fmt.Errorf("control: connection closed without a response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("control: decode response: %w", err)
	}
	return resp, nil
}
