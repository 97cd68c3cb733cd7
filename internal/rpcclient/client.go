// Package rpcclient implements the farmer-side counterpart to
// internal/rpc: a WebSocket JSON-RPC client that correlates request/
// response pairs by ID and fans subscription pushes out to per-method
// channels.
package rpcclient

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/rpc"
)

// requestTimeout bounds how long a call waits for its matching response.
const requestTimeout = 10 * time.Second

// Client is one farmer's connection to a node's RPC server.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *zap.Logger

	nextID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan rpc.Response

	subsMu sync.Mutex
	subs   map[string]chan json.RawMessage

	closed chan struct{}
}

// Dial connects to a node's farmer RPC endpoint at url (e.g. "ws://host:port/").
func Dial(url string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial: %w", err)
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan rpc.Response),
		subs:    make(map[string]chan json.RawMessage),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close terminates the underlying connection.
func (c *Client) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pendingMu.Unlock()
		c.subsMu.Lock()
		for _, ch := range c.subs {
			close(ch)
		}
		c.subsMu.Unlock()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var event rpc.SubscriptionEvent
		if err := json.Unmarshal(raw, &event); err == nil && event.Method != "" {
			c.subsMu.Lock()
			ch, ok := c.subs[event.Method]
			c.subsMu.Unlock()
			if ok {
				resultRaw, err := json.Marshal(event.Result)
				if err == nil {
					select {
					case ch <- resultRaw:
					default:
						c.logger.Warn("subscriber channel full, dropping event", zap.String("method", event.Method))
					}
				}
				continue
			}
		}

		var resp rpc.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Debug("unrecognized message", zap.Error(err))
			continue
		}
		var id uint64
		if err := json.Unmarshal(resp.ID, &id); err != nil {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) call(method string, params interface{}) (rpc.Response, error) {
	id := c.nextID.Add(1)
	idRaw, err := json.Marshal(id)
	if err != nil {
		return rpc.Response{}, err
	}
	var paramsRaw json.RawMessage
	if params != nil {
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			return rpc.Response{}, err
		}
	}

	ch := make(chan rpc.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(rpc.Request{ID: idRaw, Method: method, Params: paramsRaw})
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return rpc.Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return rpc.Response{}, fmt.Errorf("rpcclient: connection closed waiting for %s", method)
		}
		if resp.Error != nil {
			return resp, fmt.Errorf("rpcclient: %s: %s", method, resp.Error.Message)
		}
		return resp, nil
	case <-time.After(requestTimeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return rpc.Response{}, fmt.Errorf("rpcclient: %s timed out", method)
	}
}

// GetFarmerMetadata fetches the runtime's current plotting parameters.
func (c *Client) GetFarmerMetadata() (rpc.FarmerMetadata, error) {
	resp, err := c.call(rpc.MethodGetFarmerMetadata, nil)
	if err != nil {
		return rpc.FarmerMetadata{}, err
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return rpc.FarmerMetadata{}, err
	}
	var md rpc.FarmerMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return rpc.FarmerMetadata{}, err
	}
	return md, nil
}

// SubmitSolutionResponse answers an outstanding slot's challenge.
func (c *Client) SubmitSolutionResponse(body rpc.SolutionResponse) error {
	_, err := c.call(rpc.MethodSubmitSolutionResponse, body)
	return err
}

// SubmitRewardSignature answers an outstanding reward-signing request.
func (c *Client) SubmitRewardSignature(body rpc.RewardSignatureResponse) error {
	_, err := c.call(rpc.MethodSubmitRewardSignature, body)
	return err
}

// AcknowledgeArchivedSegment releases the node's backpressure for segmentIndex.
func (c *Client) AcknowledgeArchivedSegment(segmentIndex uint64) error {
	_, err := c.call(rpc.MethodAcknowledgeArchivedSegment, struct {
		SegmentIndex uint64 `json:"segment_index"`
	}{SegmentIndex: segmentIndex})
	return err
}

func (c *Client) subscribe(subscribeMethod, eventMethod string) (<-chan json.RawMessage, error) {
	ch := make(chan json.RawMessage, 16)
	c.subsMu.Lock()
	c.subs[eventMethod] = ch
	c.subsMu.Unlock()

	if _, err := c.call(subscribeMethod, nil); err != nil {
		c.subsMu.Lock()
		delete(c.subs, eventMethod)
		c.subsMu.Unlock()
		return nil, err
	}
	return ch, nil
}

// SubscribeSlotInfo subscribes to per-slot challenges.
func (c *Client) SubscribeSlotInfo() (<-chan json.RawMessage, error) {
	return c.subscribe(rpc.MethodSubscribeSlotInfo, rpc.MethodSubscribeSlotInfo)
}

// SubscribeRewardSigning subscribes to reward-signing requests.
func (c *Client) SubscribeRewardSigning() (<-chan json.RawMessage, error) {
	return c.subscribe(rpc.MethodSubscribeRewardSigning, rpc.MethodSubscribeRewardSigning)
}

// SubscribeArchivedSegment subscribes to archived segment delivery.
func (c *Client) SubscribeArchivedSegment() (<-chan json.RawMessage, error) {
	return c.subscribe(rpc.MethodSubscribeArchivedSegment, rpc.MethodSubscribeArchivedSegment)
}
