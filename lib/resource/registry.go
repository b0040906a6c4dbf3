package resource

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ValentinKolb/nKV/lib/boundary"
	"github.com/ValentinKolb/nKV/lib/term"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("resource")

// --------------------------------------------------------------------------
// Resource Kinds
// --------------------------------------------------------------------------

// Kind is the type tag of a resource
type Kind uint8

const (
	KindDatabase Kind = iota + 1 // an open database (db.Database)
	KindTree                     // an open tree (db.Tree)
	KindConfig                   // a validated configuration (*config.Config)
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "Database"
	case KindTree:
		return "Tree"
	case KindConfig:
		return "Config"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ReleaseFunc releases the value wrapped by an entry. It runs exactly once,
// after the last handle was released and no borrow is active anymore.
type ReleaseFunc func(value any) error

type kindInfo struct {
	name    string
	release ReleaseFunc
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrKindRegistered is returned when a kind is registered a second time
var ErrKindRegistered = errors.New("resource kind already registered")

// WrongResourceError is returned when a term is not a live handle of the expected kind
type WrongResourceError struct {
	Want   Kind
	Reason string
}

func (e *WrongResourceError) Error() string {
	return fmt.Sprintf("expected %s resource: %s", e.Want, e.Reason)
}

// BoundaryTag implements boundary.Tagged
func (e *WrongResourceError) BoundaryTag() boundary.Tag {
	return boundary.TagWrongResource
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// entry is the shared state behind all handles of one resource
type entry struct {
	kind  Kind
	value any

	// pins counts live handles plus active borrows. The entry is released when
	// it drops to zero and can never be pinned again afterwards.
	pins atomic.Int64
}

// pin adds a reference unless the entry is already released
func (e *entry) pin() bool {
	for {
		n := e.pins.Load()
		if n <= 0 {
			return false
		}
		if e.pins.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Registry owns the entries behind resource handles
type Registry struct {
	kinds   *xsync.MapOf[Kind, kindInfo]
	entries *xsync.MapOf[uint64, *entry]
	next    atomic.Uint64
}

// NewRegistry creates an empty registry without any registered kind
func NewRegistry() *Registry {
	return &Registry{
		kinds:   xsync.NewMapOf[Kind, kindInfo](),
		entries: xsync.NewMapOf[uint64, *entry](),
	}
}

// RegisterKind declares a resource kind. Each kind can be registered exactly once.
func (r *Registry) RegisterKind(kind Kind, name string, release ReleaseFunc) error {
	if _, loaded := r.kinds.LoadOrStore(kind, kindInfo{name: name, release: release}); loaded {
		return fmt.Errorf("%w: %s", ErrKindRegistered, name)
	}
	Logger.Debugf("registered resource kind %s", name)
	return nil
}

// Registered reports whether kind was registered
func (r *Registry) Registered(kind Kind) bool {
	_, ok := r.kinds.Load(kind)
	return ok
}

// Wrap places value under the registry's management and returns its first handle.
// The handle is released explicitly (Release) or by the garbage collector once it
// becomes unreachable.
func (r *Registry) Wrap(kind Kind, value any) (*Handle, error) {
	if !r.Registered(kind) {
		return nil, fmt.Errorf("resource kind %s is not registered", kind)
	}

	e := &entry{kind: kind, value: value}
	e.pins.Store(1)

	token := r.next.Add(1)
	r.entries.Store(token, e)
	return r.newHandle(token, kind), nil
}

// Borrow resolves t to the value of a live resource of the given kind and pins it
// until done is called. The entry cannot be released while pinned, even if every
// handle is released concurrently.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Registry) Borrow(t term.Term, kind Kind) (value any, done func(), err error) {
	h, ok := t.(*Handle)
	if !ok || h == nil {
		got := "nothing"
		if t != nil {
			got = t.Kind().String()
		}
		return nil, nil, &WrongResourceError{Want: kind, Reason: "got " + got}
	}
	if h.reg != r {
		return nil, nil, &WrongResourceError{Want: kind, Reason: "handle belongs to another registry"}
	}
	if h.kind != kind {
		return nil, nil, &WrongResourceError{Want: kind, Reason: "got " + h.kind.String()}
	}
	if h.released.Load() {
		return nil, nil, &WrongResourceError{Want: kind, Reason: "handle was released"}
	}

	e, ok := r.entries.Load(h.token)
	if !ok || !e.pin() {
		return nil, nil, &WrongResourceError{Want: kind, Reason: "resource was released"}
	}

	var once atomic.Bool
	done = func() {
		if once.CompareAndSwap(false, true) {
			r.unpin(h.token, e)
		}
	}
	return e.value, done, nil
}

// Typed is Borrow with a type assertion on the wrapped value
func Typed[T any](r *Registry, t term.Term, kind Kind) (T, func(), error) {
	var zero T
	v, done, err := r.Borrow(t, kind)
	if err != nil {
		return zero, nil, err
	}
	typed, ok := v.(T)
	if !ok {
		done()
		return zero, nil, &WrongResourceError{Want: kind, Reason: fmt.Sprintf("unexpected value %T", v)}
	}
	return typed, done, nil
}

// Len returns the number of live entries
func (r *Registry) Len() int {
	return r.entries.Size()
}

// unpin drops one reference and releases the entry when it was the last one
func (r *Registry) unpin(token uint64, e *entry) error {
	if e.pins.Add(-1) > 0 {
		return nil
	}

	r.entries.Delete(token)

	info, ok := r.kinds.Load(e.kind)
	if !ok || info.release == nil {
		return nil
	}
	if err := info.release(e.value); err != nil {
		Logger.Errorf("releasing %s resource failed: %v", info.name, err)
		return err
	}
	Logger.Debugf("released %s resource %d", info.name, token)
	return nil
}

// --------------------------------------------------------------------------
// Handles
// --------------------------------------------------------------------------

// Handle is an opaque reference to a registry entry. It is a term, so it can be
// passed back and forth across the boundary. Several handles may share one entry.
type Handle struct {
	token    uint64
	kind     Kind
	reg      *Registry
	released atomic.Bool
}

func (r *Registry) newHandle(token uint64, kind Kind) *Handle {
	h := &Handle{token: token, kind: kind, reg: r}
	runtime.SetFinalizer(h, finalizeHandle)
	return h
}

// finalizeHandle runs when the garbage collector found h unreachable.
// Releasing may block on I/O so it does not run on the finalizer goroutine.
func finalizeHandle(h *Handle) {
	if h.released.Load() {
		return
	}
	go func() { _ = h.Release() }()
}

// Kind implements term.Term
func (h *Handle) Kind() term.Kind {
	return term.KindResource
}

// ResourceKind returns the kind of the wrapped resource
func (h *Handle) ResourceKind() Kind {
	return h.kind
}

func (h *Handle) String() string {
	return fmt.Sprintf("#%s<%d>", h.kind, h.token)
}

// Clone returns a new handle sharing the same entry. The entry stays alive until
// every handle was released.
func (h *Handle) Clone() (*Handle, error) {
	if h.released.Load() {
		return nil, &WrongResourceError{Want: h.kind, Reason: "handle was released"}
	}
	e, ok := h.reg.entries.Load(h.token)
	if !ok || !e.pin() {
		return nil, &WrongResourceError{Want: h.kind, Reason: "resource was released"}
	}
	return h.reg.newHandle(h.token, h.kind), nil
}

// Release drops this handle's reference. Releasing a handle twice is a no-op.
// The error of the kind's ReleaseFunc is returned if this was the last reference.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(h, nil)

	e, ok := h.reg.entries.Load(h.token)
	if !ok {
		return nil
	}
	return h.reg.unpin(h.token, e)
}
