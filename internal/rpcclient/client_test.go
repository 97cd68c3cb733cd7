package rpcclient

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kumandra/kumandra-node/internal/archiver"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/piece"
	"github.com/kumandra/kumandra-node/internal/rpc"
	"github.com/kumandra/kumandra-node/internal/runtime"
	"github.com/kumandra/kumandra-node/internal/slotworker"
)

type fakeBest struct{}

func (fakeBest) BestHash() [32]byte { return [32]byte{} }
func (fakeBest) BestNumber() uint64 { return 0 }

func newTestServer(t *testing.T) (*httptest.Server, notification.Sender[slotworker.NewSlotNotification]) {
	t.Helper()
	rt := runtime.NewInMemory(runtime.ChainParameters{
		RecordSize:  piece.RecordSize,
		TotalPieces: 500,
	})
	newSlotSender, newSlotStream := notification.Channel[slotworker.NewSlotNotification]("new-slot")
	_, rewardStream := notification.Channel[slotworker.RewardSigningNotification]("reward")
	_, archivedStream := notification.Channel[archiver.ArchivedSegmentNotification]("archived")

	s := rpc.NewServer(rt, fakeBest{}, newSlotStream, rewardStream, archivedStream, nil)
	return httptest.NewServer(s.Handler()), newSlotSender
}

func TestClientGetFarmerMetadata(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	md, err := client.GetFarmerMetadata()
	if err != nil {
		t.Fatalf("GetFarmerMetadata: %v", err)
	}
	if md.TotalPieces != 500 {
		t.Fatalf("expected total_pieces 500, got %d", md.TotalPieces)
	}
}

func TestClientSubscribeSlotInfo(t *testing.T) {
	srv, newSlotSender := newTestServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	events, err := client.SubscribeSlotInfo()
	if err != nil {
		t.Fatalf("SubscribeSlotInfo: %v", err)
	}

	// Give the subscription ack a moment to land before the notify fires,
	// since Notify only reaches subscribers registered before it runs.
	time.Sleep(50 * time.Millisecond)

	newSlotSender.Notify(func() slotworker.NewSlotNotification {
		return slotworker.NewSlotNotification{Info: slotworker.NewSlotInfo{SlotNumber: 99}}
	})

	select {
	case raw := <-events:
		var info rpc.SlotInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			t.Fatalf("unmarshal slot info: %v", err)
		}
		if info.SlotNumber != 99 {
			t.Fatalf("expected slot 99, got %d", info.SlotNumber)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slot info event")
	}
}
