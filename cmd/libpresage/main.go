//go:build cgo

// Command libpresage builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libpresage.so ./cmd/libpresage
//
// A host creates a runtime with presage_init, opens sessions on it and
// submits commands against the tx handle delivered in each session's first
// record. Strings inside records belong to the host and are returned with
// presage_release_string.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	uintptr_t account;
	uint64_t tx;
	char *qrcode;
	char *uuid;
	uint64_t timestamp;
	uint64_t sent;
	char *who;
	char *group;
	char *body;
} presage_record;

typedef void (*presage_callback)(const presage_record *);

static inline void presage_invoke(presage_callback cb, const presage_record *rec) {
	cb(rec);
}
*/
import "C"

import (
	"context"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/config"
	"presagebridge/pkg/handle"
	"presagebridge/pkg/logger"
	"presagebridge/pkg/record"
	"presagebridge/pkg/session"
)

type instance struct {
	rt       *bridge.Runtime
	callback C.presage_callback
}

var (
	runtimes handle.Table[*instance]
	ledger   = record.NewLedger[*C.char](cAllocator{})
	log      atomic.Pointer[slog.Logger]
)

func init() {
	log.Store(slog.Default().With("component", "libpresage"))
}

type cAllocator struct{}

func (cAllocator) Alloc(s string) *C.char { return C.CString(s) }
func (cAllocator) Free(p *C.char)         { C.free(unsafe.Pointer(p)) }

// transfer hands a copy of s to the host, or NULL for an absent field.
func transfer(s *string) *C.char {
	if s == nil {
		return nil
	}
	return ledger.Transfer(*s)
}

func (inst *instance) deliver(rec record.Record) {
	out := C.presage_record{
		account:   C.uintptr_t(rec.Account),
		tx:        C.uint64_t(rec.Sender),
		qrcode:    transfer(rec.QRCode),
		uuid:      transfer(rec.Identity),
		timestamp: C.uint64_t(rec.Timestamp),
		who:       transfer(rec.Who),
		group:     transfer(rec.Group),
		body:      transfer(rec.Body),
	}
	if rec.IsSent {
		out.sent = 1
	}
	C.presage_invoke(inst.callback, &out)
}

func lookup(rt C.uint64_t) (*instance, error) {
	return runtimes.Get(handle.Handle(rt))
}

func status(err error) C.int {
	if err != nil {
		log.Load().Warn("Call failed", "error", err)
	}
	return C.int(bridge.Status(err))
}

//export presage_init
func presage_init(cb C.presage_callback) C.uint64_t {
	if cb == nil {
		log.Load().Error("presage_init called without a callback")
		return 0
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Load().Error("Loading config failed", "error", err)
		return 0
	}
	appLogger, err := logger.Install(cfg.Logging)
	if err != nil {
		log.Load().Error("Initializing logger failed", "error", err)
		return 0
	}
	log.Store(appLogger.With("component", "libpresage"))

	opts, err := bridge.OptionsFromConfig(cfg, appLogger, nil)
	if err != nil {
		log.Load().Error("Invalid bridge configuration", "error", err)
		return 0
	}

	h := runtimes.Insert(&instance{rt: bridge.NewRuntime(opts), callback: cb})
	log.Load().Info("Runtime created", "runtime", h.String())
	return C.uint64_t(h)
}

//export presage_destroy
func presage_destroy(rt C.uint64_t) C.int {
	inst, err := runtimes.Remove(handle.Handle(rt))
	if err != nil {
		return status(err)
	}
	return status(inst.rt.Destroy())
}

//export presage_open
func presage_open(rt C.uint64_t, account C.uintptr_t, storePath *C.char) C.int {
	inst, err := lookup(rt)
	if err != nil {
		return status(err)
	}
	_, err = inst.rt.Open(context.Background(), record.Account(account), C.GoString(storePath), inst.deliver)
	return status(err)
}

//export presage_link
func presage_link(rt C.uint64_t, tx C.uint64_t, deviceName *C.char, staging C.int) C.int {
	servers := session.Production
	if staging != 0 {
		servers = session.Staging
	}
	return send(rt, tx, bridge.LinkDevice{Servers: servers, DeviceName: C.GoString(deviceName)})
}

//export presage_whoami
func presage_whoami(rt C.uint64_t, tx C.uint64_t) C.int {
	return send(rt, tx, bridge.Whoami{})
}

//export presage_receive
func presage_receive(rt C.uint64_t, tx C.uint64_t) C.int {
	return send(rt, tx, bridge.Receive{})
}

//export presage_release_string
func presage_release_string(s *C.char) C.int {
	if s == nil {
		return C.int(bridge.StatusOK)
	}
	return status(ledger.Release(s))
}

// send blocks while the session's queue is full.
func send(rt C.uint64_t, tx C.uint64_t, command bridge.Command) C.int {
	inst, err := lookup(rt)
	if err != nil {
		return status(err)
	}
	return status(inst.rt.Send(context.Background(), handle.Handle(tx), command))
}

func main() {}
