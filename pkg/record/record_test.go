package record

import (
	"errors"
	"testing"

	"presagebridge/pkg/handle"
)

func TestMarshalChannelReady(t *testing.T) {
	rec := Marshal(7, ChannelReady{Sender: handle.Handle(42)})

	if rec.Account != 7 {
		t.Fatalf("account = %d, want 7", rec.Account)
	}
	if rec.Sender != 42 {
		t.Fatalf("sender = %d, want 42", rec.Sender)
	}
	if rec.QRCode != nil || rec.Identity != nil || rec.Body != nil {
		t.Fatalf("unexpected string fields on channel-ready: %+v", rec)
	}
}

func TestMarshalLinkQRReady(t *testing.T) {
	rec := Marshal(1, LinkQRReady{URL: "sgnl://linkdevice?uuid=x"})

	if rec.QRCode == nil || *rec.QRCode != "sgnl://linkdevice?uuid=x" {
		t.Fatalf("qrcode = %v", rec.QRCode)
	}
	if rec.Sender != 0 {
		t.Fatalf("sender = %d, want 0", rec.Sender)
	}
}

func TestMarshalIdentityKeepsEmptySentinel(t *testing.T) {
	rec := Marshal(1, IdentityResolved{})
	if rec.Identity == nil {
		t.Fatal("expected non-nil identity for failure sentinel")
	}
	if *rec.Identity != "" {
		t.Fatalf("identity = %q, want empty", *rec.Identity)
	}

	rec = Marshal(1, IdentityResolved{Identity: "U-1"})
	if rec.Identity == nil || *rec.Identity != "U-1" {
		t.Fatalf("identity = %v, want U-1", rec.Identity)
	}
}

func TestMarshalMessage(t *testing.T) {
	rec := Marshal(3, Message{Sent: true, Timestamp: 1000, Sender: "bob", Body: "hi"})

	if !rec.IsSent {
		t.Fatal("expected is-sent")
	}
	if rec.Timestamp != 1000 {
		t.Fatalf("timestamp = %d, want 1000", rec.Timestamp)
	}
	if rec.Who == nil || *rec.Who != "bob" {
		t.Fatalf("who = %v, want bob", rec.Who)
	}
	if rec.Group != nil {
		t.Fatalf("group = %q, want nil for direct conversation", *rec.Group)
	}
	if rec.Body == nil || *rec.Body != "hi" {
		t.Fatalf("body = %v, want hi", rec.Body)
	}
	if rec.Identity != nil || rec.QRCode != nil {
		t.Fatal("message record must not carry identity or qrcode")
	}
}

type countingAllocator struct {
	next  int
	freed []int
}

func (a *countingAllocator) Alloc(string) int {
	a.next++
	return a.next
}

func (a *countingAllocator) Free(p int) {
	a.freed = append(a.freed, p)
}

func TestLedgerTransferAndRelease(t *testing.T) {
	alloc := &countingAllocator{}
	ledger := NewLedger[int](alloc)

	first := ledger.Transfer("a")
	second := ledger.Transfer("b")
	if ledger.Outstanding() != 2 {
		t.Fatalf("outstanding = %d, want 2", ledger.Outstanding())
	}

	if err := ledger.Release(first); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := ledger.Release(first); !errors.Is(err, ErrUnknownAllocation) {
		t.Fatalf("double Release error = %v, want %v", err, ErrUnknownAllocation)
	}
	if err := ledger.Release(99); !errors.Is(err, ErrUnknownAllocation) {
		t.Fatalf("foreign Release error = %v, want %v", err, ErrUnknownAllocation)
	}
	if err := ledger.Release(second); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	if ledger.Outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", ledger.Outstanding())
	}
	if len(alloc.freed) != 2 {
		t.Fatalf("freed = %v, want two frees", alloc.freed)
	}
}

func TestDecodeInvertsMarshal(t *testing.T) {
	events := []Event{
		ChannelReady{Sender: handle.Handle(9)},
		LinkQRReady{URL: "sgnl://linkdevice?uuid=y"},
		IdentityResolved{Identity: ""},
		IdentityResolved{Identity: "U-1"},
		Message{Sent: true, Timestamp: 12, Sender: "bob", Body: "hi"},
		Message{Timestamp: 13, Group: "Family", Body: "Empty data message"},
	}

	for _, want := range events {
		got := Decode(Marshal(3, want))
		if got != want {
			t.Fatalf("Decode(Marshal(%#v)) = %#v", want, got)
		}
	}
}
