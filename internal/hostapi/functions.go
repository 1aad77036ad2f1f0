package hostapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/cache"
	"github.com/plaidrun/plaid/internal/kv"
	"github.com/plaidrun/plaid/internal/sandbox"
	"github.com/plaidrun/plaid/internal/wheel"
	"github.com/plaidrun/plaid/pkg/async"
)

// hostCallTimeout bounds how long an outbound call_api dispatch may
// occupy the invoking goroutine before the guest sees InternalApiError,
// independent of the module's own wall-clock invocation deadline.
const hostCallTimeout = 10 * time.Second

// callAPI implements the API-dispatch calls of spec.md §4.4 item 1:
// call_api(namespace_ptr,namespace_len, method_ptr,method_len,
// payload_ptr,payload_len, out_ptr,out_cap) -> i32. One generic function
// replaces "one host function per bound API namespace × method" from the
// spec's prose, since namespace/method pairs are config-driven at
// runtime rather than known to the wazero loader at compile time — a
// documented deviation, see DESIGN.md.
func (s *Surface) callAPI(ctx context.Context, mod api.Module,
	nsPtr, nsLen, methodPtr, methodLen, payloadPtr, payloadLen, outPtr, outCap uint32) int32 {

	inst, cfg, ok := s.instanceAndConfig(ctx)
	if !ok {
		return int32(sandbox.ErrInternalApiError)
	}
	// A test-mode invocation (sandbox.Executor.RunTest) must never cause a
	// real external side effect, regardless of the module's own
	// TestModeAllowed setting — that flag only gates whether the
	// invocation is permitted to start at all (checked before this call
	// ever runs), not what it may do once running.
	if inst.TestMode {
		return int32(sandbox.ErrTestMode)
	}

	namespace, errCode := sandbox.ReadString(mod, nsPtr, nsLen)
	if errCode != 0 {
		return int32(errCode)
	}
	method, errCode := sandbox.ReadString(mod, methodPtr, methodLen)
	if errCode != 0 {
		return int32(errCode)
	}

	if !s.api.Configured(namespace) {
		return int32(sandbox.ErrApiNotConfigured)
	}
	if !cfg.CanCallAPI(namespace, method) {
		return int32(sandbox.ErrOperationNotAllowed)
	}
	if !s.limiter.Allow(inst.ModuleName, namespace) {
		return int32(sandbox.ErrOperationNotAllowed)
	}

	payload, err := readBytes(mod, payloadPtr, payloadLen)
	if err != 0 {
		return int32(err)
	}

	// The outbound call runs on the shared async runtime (pkg/async's
	// Future) so a slow backend only blocks this invoking goroutine, not
	// the other concurrently-executing invocations sharing the runtime.
	var resp []byte
	future := async.Exec(ctx, struct{}{}, func(ctx context.Context, _ struct{}) error {
		var callErr error
		resp, callErr = s.api.Call(ctx, namespace, method, payload)
		return callErr
	})
	if callErr := future.AwaitWithTimeout(hostCallTimeout); callErr != nil {
		s.logger.Warn("hostapi: outbound call failed", slog.String("module", inst.ModuleName), slog.String("namespace", namespace), slog.Any("error", callErr))
		return int32(sandbox.ErrInternalApiError)
	}

	n, werr := sandbox.WriteBytes(mod, outPtr, outCap, resp)
	if werr != 0 {
		return int32(werr)
	}
	return n
}

// readBytes reads a raw (not necessarily UTF-8) guest buffer, used for
// binary payloads that ReadString's UTF-8 validation would reject.
func readBytes(mod api.Module, ptr, length uint32) ([]byte, sandbox.HostError) {
	if length == 0 {
		return nil, 0
	}
	raw, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, sandbox.ErrInvalidPointer
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, 0
}

func (s *Surface) storageGet(ctx context.Context, mod api.Module, keyPtr, keyLen, outPtr, outCap uint32) int32 {
	inst, _, ok := s.instanceAndConfig(ctx)
	if !ok {
		return int32(sandbox.ErrInternalApiError)
	}
	key, errCode := sandbox.ReadString(mod, keyPtr, keyLen)
	if errCode != 0 {
		return int32(errCode)
	}
	value, err := s.storage.Get(ctx, inst.ModuleName, key)
	if err != nil {
		return int32(sandbox.ErrSharedDbError)
	}
	n, werr := sandbox.WriteBytes(mod, outPtr, outCap, value)
	if werr != 0 {
		return int32(werr)
	}
	return n
}

func (s *Surface) storagePut(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen uint32) int32 {
	inst, _, ok := s.instanceAndConfig(ctx)
	if !ok {
		return int32(sandbox.ErrInternalApiError)
	}
	key, errCode := sandbox.ReadString(mod, keyPtr, keyLen)
	if errCode != 0 {
		return int32(errCode)
	}
	value, rerr := readBytes(mod, valPtr, valLen)
	if rerr != 0 {
		return int32(rerr)
	}
	if err := s.storage.Put(ctx, inst.ModuleName, key, value); err != nil {
		if err == kv.ErrLimitReached {
			return int32(sandbox.ErrStorageLimitReached)
		}
		return int32(sandbox.ErrSharedDbError)
	}
	return 0
}

func (s *Surface) storageListKeys(ctx context.Context, mod api.Module, prefixPtr, prefixLen, outPtr, outCap uint32) int32 {
	inst, _, ok := s.instanceAndConfig(ctx)
	if !ok {
		return int32(sandbox.ErrInternalApiError)
	}
	prefix, errCode := sandbox.ReadString(mod, prefixPtr, prefixLen)
	if errCode != 0 {
		return int32(errCode)
	}
	keys, err := s.storage.ListKeys(ctx, inst.ModuleName, prefix)
	if err != nil {
		return int32(sandbox.ErrSharedDbError)
	}
	joined := joinNewline(keys)
	n, werr := sandbox.WriteBytes(mod, outPtr, outCap, joined)
	if werr != 0 {
		return int32(werr)
	}
	return n
}

func joinNewline(keys []string) []byte {
	out := make([]byte, 0, len(keys)*8)
	for i, k := range keys {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, k...)
	}
	return out
}

func (s *Surface) storageDelete(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) int32 {
	inst, _, ok := s.instanceAndConfig(ctx)
	if !ok {
		return int32(sandbox.ErrInternalApiError)
	}
	key, errCode := sandbox.ReadString(mod, keyPtr, keyLen)
	if errCode != 0 {
		return int32(errCode)
	}
	if err := s.storage.Delete(ctx, inst.ModuleName, key); err != nil {
		return int32(sandbox.ErrSharedDbError)
	}
	return 0
}

// cacheGet implements cache_get(fingerprint) -> bytes|absent (spec.md
// §4.4 item 3). Absent is signaled by returning 0 with nothing written;
// CacheDisabled (-7) gates modules without a declared response role.
func (s *Surface) cacheGet(ctx context.Context, mod api.Module, fpPtr, fpLen, outPtr, outCap uint32) int32 {
	inst, cfg, ok := s.instanceAndConfig(ctx)
	if !ok {
		return int32(sandbox.ErrInternalApiError)
	}
	if !cfg.PersistentResponse {
		return int32(sandbox.ErrCacheDisabled)
	}
	fp, errCode := sandbox.ReadString(mod, fpPtr, fpLen)
	if errCode != 0 {
		return int32(errCode)
	}
	entry, found := s.cache.Get(cache.Key{Module: inst.ModuleName, Fingerprint: fp})
	if !found {
		return 0
	}
	n, werr := sandbox.WriteBytes(mod, outPtr, outCap, entry.Bytes)
	if werr != 0 {
		return int32(werr)
	}
	return n
}

// cachePut implements cache_put(fingerprint, bytes, mode) -> i32.
// mode: 0 = timed, 1 = persistent.
func (s *Surface) cachePut(ctx context.Context, mod api.Module, fpPtr, fpLen, valPtr, valLen, modeFlag uint32) int32 {
	inst, cfg, ok := s.instanceAndConfig(ctx)
	if !ok {
		return int32(sandbox.ErrInternalApiError)
	}
	if !cfg.PersistentResponse {
		return int32(sandbox.ErrCacheDisabled)
	}
	fp, errCode := sandbox.ReadString(mod, fpPtr, fpLen)
	if errCode != 0 {
		return int32(errCode)
	}
	value, rerr := readBytes(mod, valPtr, valLen)
	if rerr != 0 {
		return int32(rerr)
	}
	s.cache.Put(cache.Key{Module: inst.ModuleName, Fingerprint: fp}, value, modeFlag == 1)
	return 0
}

// setResponse implements set_response(bytes): overwrites silently
// (spec.md §4.4 item 4).
func (s *Surface) setResponse(ctx context.Context, mod api.Module, ptr, length uint32) int32 {
	inst := sandbox.InstanceFromContext(ctx)
	if inst == nil {
		return int32(sandbox.ErrInternalApiError)
	}
	value, rerr := readBytes(mod, ptr, length)
	if rerr != 0 {
		return int32(rerr)
	}
	inst.SetResponse(value)
	return 0
}

func (s *Surface) getAccessory(ctx context.Context, mod api.Module, keyPtr, keyLen, outPtr, outCap uint32) int32 {
	inst := sandbox.InstanceFromContext(ctx)
	if inst == nil {
		return int32(sandbox.ErrInternalApiError)
	}
	key, errCode := sandbox.ReadString(mod, keyPtr, keyLen)
	if errCode != 0 {
		return int32(errCode)
	}
	value, found := inst.Accessory(key)
	if !found {
		return 0
	}
	n, werr := sandbox.WriteBytes(mod, outPtr, outCap, []byte(value))
	if werr != 0 {
		return int32(werr)
	}
	return n
}

func (s *Surface) getSource(ctx context.Context, mod api.Module, outPtr, outCap uint32) int32 {
	inst := sandbox.InstanceFromContext(ctx)
	if inst == nil {
		return int32(sandbox.ErrInternalApiError)
	}
	src := inst.Source()
	var encoded string
	switch {
	case src.Webhook != "":
		encoded = "webhook:" + src.Webhook
	case src.Module != "":
		encoded = "module:" + src.Module
	case src.Label != "":
		encoded = "label:" + src.Label
	}
	n, werr := sandbox.WriteBytes(mod, outPtr, outCap, []byte(encoded))
	if werr != 0 {
		return int32(werr)
	}
	return n
}

// getTime returns the current unix time in seconds as an i64, spanning
// two i32 return registers would complicate the ABI, so it is exposed
// as a direct i64 result rather than the (ptr,len) convention.
func (s *Surface) getTime(context.Context, api.Module) int64 {
	return time.Now().Unix()
}

// logBack implements log_back(channel,payload) (spec.md §4.4 item 6):
// creates a new event carrying the decremented logback budget, and
// fails with OperationNotAllowed once the budget is exhausted.
func (s *Surface) logBack(ctx context.Context, mod api.Module, chPtr, chLen, payloadPtr, payloadLen uint32) int32 {
	inst := sandbox.InstanceFromContext(ctx)
	if inst == nil {
		return int32(sandbox.ErrInternalApiError)
	}
	channel, errCode := sandbox.ReadString(mod, chPtr, chLen)
	if errCode != 0 {
		return int32(errCode)
	}
	payload, rerr := readBytes(mod, payloadPtr, payloadLen)
	if rerr != 0 {
		return int32(rerr)
	}

	child, ok := inst.DecrementLogback()
	if !ok {
		return int32(sandbox.ErrOperationNotAllowed)
	}

	event := bus.New(channel, payload, bus.Source{Module: inst.ModuleName}, nil, child)
	if err := s.bus.TrySubmit(event); err != nil {
		s.logger.Warn("hostapi: log_back dropped, bus unavailable", slog.String("module", inst.ModuleName), slog.Any("error", err))
		return int32(sandbox.ErrInternalApiError)
	}
	return 0
}

// printDebugString implements print_debug_string(bytes) (spec.md §4.4
// item 7).
func (s *Surface) printDebugString(ctx context.Context, mod api.Module, ptr, length uint32) int32 {
	inst := sandbox.InstanceFromContext(ctx)
	moduleName := "?"
	if inst != nil {
		moduleName = inst.ModuleName
	}
	msg, errCode := sandbox.ReadString(mod, ptr, length)
	if errCode != 0 {
		return int32(errCode)
	}
	s.logger.Debug("guest debug", slog.String("module", moduleName), slog.String("message", msg))
	return 0
}

// scheduleSend implements the delayed-send host call of spec.md §4.8:
// schedule_send(channel, payload, not_before_unix).
func (s *Surface) scheduleSend(ctx context.Context, mod api.Module, chPtr, chLen, payloadPtr, payloadLen uint32, notBeforeUnix int64) int32 {
	inst := sandbox.InstanceFromContext(ctx)
	if inst == nil {
		return int32(sandbox.ErrInternalApiError)
	}
	channel, errCode := sandbox.ReadString(mod, chPtr, chLen)
	if errCode != 0 {
		return int32(errCode)
	}
	payload, rerr := readBytes(mod, payloadPtr, payloadLen)
	if rerr != 0 {
		return int32(rerr)
	}

	event := bus.New(channel, payload, bus.Source{Module: inst.ModuleName}, nil, inst.Logback())
	s.wheel.Schedule(wheel.DelayedMessage{Event: event, NotBefore: time.Unix(notBeforeUnix, 0)})
	return 0
}
