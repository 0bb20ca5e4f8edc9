package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/saltnpepper97/verdant/internal/bloom"
)

// Client dials a control socket and exchanges exactly one request/
// response frame per spec §4.G "IPC framing": one JSON document
// terminated by \n, in both directions. Used by vctl (-> verdantd's
// socket) and by the manager's own shutdown handshake
// (-> Stage-1's init socket).
type Client struct {
	SocketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath}
}

// Send writes req and reads back exactly one Response, bounded by
// timeout.
func (c *Client) Send(req Request, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return Response{}, bloom.Wrap(bloom.KindIo, err, "dialing "+c.SocketPath)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	_ = conn.SetDeadline(deadline)

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, bloom.Wrap(bloom.KindParse, err, "encoding IPC request")
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return Response{}, bloom.Wrap(bloom.KindIo, err, "writing IPC request")
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return Response{}, bloom.Wrap(bloom.KindIo, err, "reading IPC response")
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return Response{}, bloom.Wrap(bloom.KindParse, err, "decoding IPC response")
	}
	return resp, nil
}
