package rpc

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kumandra/kumandra-node/internal/archiver"
	"github.com/kumandra/kumandra-node/internal/consensus"
	"github.com/kumandra/kumandra-node/internal/kcrypto"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/slotworker"
)

// requestRateLimit and requestBurst bound how fast a single farmer
// connection may issue RPC calls, so a misbehaving or compromised farmer
// can't flood the node with subscribe/submit churn.
const (
	requestRateLimit = 50 // requests per second
	requestBurst     = 100
)

// session is one farmer's WebSocket connection: its own subscriptions and
// the one-shot state needed to route kumandra_submitSolutionResponse and
// kumandra_submitRewardSignature calls to the right outstanding sender.
type session struct {
	conn   *websocket.Conn
	writeMu sync.Mutex
	logger *zap.Logger

	server *Server

	limiter *rate.Limiter

	mu                  sync.Mutex
	currentSlot         uint64
	solutionSender      chan<- consensus.Solution
	currentRewardHash   [32]byte
	rewardSigSender     chan<- kcrypto.RewardSignature

	slotSub     *notification.Subscription[slotworker.NewSlotNotification]
	rewardSub   *notification.Subscription[slotworker.RewardSigningNotification]
	segmentSub  *notification.Subscription[archiver.ArchivedSegmentNotification]

	pendingAcksMu sync.Mutex
	pendingAcks   map[uint64]*sync.Once
	pendingAckCh  map[uint64]chan<- struct{}
}

func newSession(conn *websocket.Conn, server *Server, logger *zap.Logger) *session {
	return &session{
		conn:         conn,
		server:       server,
		logger:       logger,
		limiter:      rate.NewLimiter(rate.Limit(requestRateLimit), requestBurst),
		pendingAcks:  make(map[uint64]*sync.Once),
		pendingAckCh: make(map[uint64]chan<- struct{}),
	}
}

func (s *session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) reply(id json.RawMessage, result interface{}, rpcErr error) {
	resp := Response{ID: id, Result: result}
	if rpcErr != nil {
		resp.Error = &ErrorObject{Code: -32000, Message: rpcErr.Error()}
		resp.Result = nil
	}
	if err := s.writeJSON(resp); err != nil {
		s.logger.Debug("write response failed", zap.Error(err))
	}
}

func (s *session) close() {
	if s.slotSub != nil {
		s.slotSub.Unsubscribe()
	}
	if s.rewardSub != nil {
		s.rewardSub.Unsubscribe()
	}
	if s.segmentSub != nil {
		s.segmentSub.Unsubscribe()
	}
	s.conn.Close()
}

// run reads requests until the connection closes or errors.
func (s *session) run() {
	defer s.close()
	for {
		var req Request
		if err := s.conn.ReadJSON(&req); err != nil {
			return
		}
		if !s.limiter.Allow() {
			s.reply(req.ID, nil, errRateLimited)
			continue
		}
		s.handle(req)
	}
}

func (s *session) handle(req Request) {
	switch req.Method {
	case MethodGetFarmerMetadata:
		s.handleGetFarmerMetadata(req)
	case MethodSubmitSolutionResponse:
		s.handleSubmitSolutionResponse(req)
	case MethodSubscribeSlotInfo:
		s.handleSubscribeSlotInfo(req)
	case MethodUnsubscribeSlotInfo:
		if s.slotSub != nil {
			s.slotSub.Unsubscribe()
			s.slotSub = nil
		}
		s.reply(req.ID, true, nil)
	case MethodSubscribeRewardSigning:
		s.handleSubscribeRewardSigning(req)
	case MethodUnsubscribeRewardSigning:
		if s.rewardSub != nil {
			s.rewardSub.Unsubscribe()
			s.rewardSub = nil
		}
		s.reply(req.ID, true, nil)
	case MethodSubmitRewardSignature:
		s.handleSubmitRewardSignature(req)
	case MethodSubscribeArchivedSegment:
		s.handleSubscribeArchivedSegment(req)
	case MethodUnsubscribeArchivedSegment:
		if s.segmentSub != nil {
			s.segmentSub.Unsubscribe()
			s.segmentSub = nil
		}
		s.reply(req.ID, true, nil)
	case MethodAcknowledgeArchivedSegment:
		s.handleAcknowledgeArchivedSegment(req)
	default:
		s.reply(req.ID, nil, errUnknownMethod(req.Method))
	}
}

func (s *session) handleGetFarmerMetadata(req Request) {
	params, err := s.server.rt.Parameters(s.server.best.BestHash())
	if err != nil {
		s.reply(req.ID, nil, err)
		return
	}
	s.reply(req.ID, FarmerMetadata{
		RecordSize:                 params.RecordSize,
		RecordedHistorySegmentSize: params.RecordedHistorySegmentSize,
		MaxPlotSize:                params.MaxPlotSize,
		TotalPieces:                params.TotalPieces,
	}, nil)
}

func (s *session) handleSubmitSolutionResponse(req Request) {
	var body SolutionResponse
	if err := json.Unmarshal(req.Params, &body); err != nil {
		s.reply(req.ID, nil, err)
		return
	}

	s.mu.Lock()
	sender := s.solutionSender
	match := body.SlotNumber == s.currentSlot
	s.mu.Unlock()

	if match && sender != nil && body.MaybeSolution != nil {
		select {
		case sender <- *body.MaybeSolution:
		default:
		}
	}
	s.reply(req.ID, true, nil)
}

func (s *session) handleSubscribeSlotInfo(req Request) {
	if s.slotSub != nil {
		s.slotSub.Unsubscribe()
	}
	sub := s.server.newSlotStream.Subscribe()
	s.slotSub = &sub
	go func() {
		for n := range sub.C {
			s.mu.Lock()
			s.currentSlot = n.Info.SlotNumber
			s.solutionSender = n.SolutionSender
			s.mu.Unlock()
			if err := s.writeJSON(SubscriptionEvent{
				Subscription: MethodSubscribeSlotInfo,
				Method:       MethodSubscribeSlotInfo,
				Result:       slotInfoFromDomain(n.Info),
			}); err != nil {
				return
			}
		}
	}()
	s.reply(req.ID, true, nil)
}

func (s *session) handleSubscribeRewardSigning(req Request) {
	if s.rewardSub != nil {
		s.rewardSub.Unsubscribe()
	}
	sub := s.server.rewardStream.Subscribe()
	s.rewardSub = &sub
	go func() {
		for n := range sub.C {
			s.mu.Lock()
			s.currentRewardHash = n.Info.Hash
			s.rewardSigSender = n.SignatureSender
			s.mu.Unlock()
			if err := s.writeJSON(SubscriptionEvent{
				Subscription: MethodSubscribeRewardSigning,
				Method:       MethodSubscribeRewardSigning,
				Result:       rewardSigningFromDomain(n.Info),
			}); err != nil {
				return
			}
		}
	}()
	s.reply(req.ID, true, nil)
}

func (s *session) handleSubmitRewardSignature(req Request) {
	var body RewardSignatureResponse
	if err := json.Unmarshal(req.Params, &body); err != nil {
		s.reply(req.ID, nil, err)
		return
	}

	s.mu.Lock()
	sender := s.rewardSigSender
	match := body.Hash == s.currentRewardHash
	s.mu.Unlock()

	if match && sender != nil {
		select {
		case sender <- body.Signature:
		default:
		}
	}
	s.reply(req.ID, true, nil)
}

func (s *session) handleSubscribeArchivedSegment(req Request) {
	if s.segmentSub != nil {
		s.segmentSub.Unsubscribe()
	}
	sub := s.server.archivedStream.Subscribe()
	s.segmentSub = &sub
	go func() {
		for n := range sub.C {
			idx := n.Segment.RootBlock.SegmentIndex()
			s.registerPendingAck(idx, n.Segment.Ack)

			payload, err := archivedSegmentPayload(n.Segment)
			if err != nil {
				s.logger.Warn("encode archived segment", zap.Error(err))
				continue
			}
			if err := s.writeJSON(SubscriptionEvent{
				Subscription: MethodSubscribeArchivedSegment,
				Method:       MethodSubscribeArchivedSegment,
				Result:       payload,
			}); err != nil {
				return
			}
		}
	}()
	s.reply(req.ID, true, nil)
}

func (s *session) registerPendingAck(segmentIndex uint64, ack chan<- struct{}) {
	s.pendingAcksMu.Lock()
	defer s.pendingAcksMu.Unlock()
	s.pendingAcks[segmentIndex] = &sync.Once{}
	s.pendingAckCh[segmentIndex] = ack
}

func (s *session) handleAcknowledgeArchivedSegment(req Request) {
	var params struct {
		SegmentIndex uint64 `json:"segment_index"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.reply(req.ID, nil, err)
		return
	}

	s.pendingAcksMu.Lock()
	once, ok := s.pendingAcks[params.SegmentIndex]
	ack := s.pendingAckCh[params.SegmentIndex]
	if ok {
		delete(s.pendingAcks, params.SegmentIndex)
		delete(s.pendingAckCh, params.SegmentIndex)
	}
	s.pendingAcksMu.Unlock()

	if ok {
		once.Do(func() {
			// Every subscribed session holds the same Ack channel; closing it
			// again after another session acknowledged first is a no-op.
			defer func() { _ = recover() }()
			close(ack)
		})
	}
	s.reply(req.ID, true, nil)
}
