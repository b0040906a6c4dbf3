package native

import (
	"context"
	"fmt"
	"sort"

	"github.com/ValentinKolb/nKV/lib/boundary"
	"github.com/ValentinKolb/nKV/lib/resource"
	"github.com/ValentinKolb/nKV/lib/scheduler"
	"github.com/ValentinKolb/nKV/lib/term"
)

// --------------------------------------------------------------------------
// Function Table
// --------------------------------------------------------------------------

// Function describes one host-callable function
type Function struct {
	Name  string
	Arity int
	Class scheduler.Class

	call func(ctx context.Context, m *Module, args []term.Term) (term.Term, error)
}

func (f Function) String() string {
	return fmt.Sprintf("%s/%d (%s)", f.Name, f.Arity, f.Class)
}

func buildFunctionTable() map[string]*Function {
	table := []*Function{
		{Name: "config_new", Arity: 1, Class: scheduler.ClassNormal, call: callConfigNew},
		{Name: "config_open", Arity: 1, Class: scheduler.ClassDirtyIO, call: callConfigOpen},
		{Name: "open", Arity: 1, Class: scheduler.ClassDirtyIO, call: callOpen},
		{Name: "db_checksum", Arity: 1, Class: scheduler.ClassDirtyIO, call: callDbChecksum},
		{Name: "size_on_disk", Arity: 1, Class: scheduler.ClassDirtyIO, call: callSizeOnDisk},
		{Name: "was_recovered", Arity: 1, Class: scheduler.ClassDirtyIO, call: callWasRecovered},
		{Name: "tree_open", Arity: 2, Class: scheduler.ClassDirtyIO, call: callTreeOpen},
		{Name: "tree_drop", Arity: 2, Class: scheduler.ClassDirtyIO, call: callTreeDrop},
		{Name: "tree_names", Arity: 1, Class: scheduler.ClassDirtyIO, call: callTreeNames},
		{Name: "checksum", Arity: 1, Class: scheduler.ClassDirtyIO, call: callChecksum},
		{Name: "flush", Arity: 1, Class: scheduler.ClassDirtyIO, call: callFlush},
		{Name: "insert", Arity: 3, Class: scheduler.ClassDirtyIO, call: callInsert},
		{Name: "get", Arity: 2, Class: scheduler.ClassDirtyIO, call: callGet},
		{Name: "remove", Arity: 2, Class: scheduler.ClassDirtyIO, call: callRemove},
	}

	functions := make(map[string]*Function, len(table))
	for _, f := range table {
		functions[f.Name] = f
	}
	return functions
}

// Functions returns the function table sorted by name
func (m *Module) Functions() []Function {
	out := make([]Function, 0, len(m.functions))
	for _, f := range m.functions {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes a function of the table with host terms and returns a tagged result:
// {ok, Value} on success and {error, Tag, Detail} on failure. Call never panics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Module) Call(ctx context.Context, name string, args ...term.Term) term.Tuple {
	f, ok := m.functions[name]
	if !ok {
		return boundary.ToTerm(boundary.NewError(boundary.TagBadArg, "unknown function "+name))
	}
	if len(args) != f.Arity {
		return boundary.ToTerm(boundary.NewError(boundary.TagBadArg,
			fmt.Sprintf("%s expects %d arguments, got %d", f, f.Arity, len(args))))
	}

	v, err := boundary.GuardValue(func() (term.Term, error) {
		return f.call(ctx, m, args)
	})
	return boundary.Result(v, err)
}

// --------------------------------------------------------------------------
// Argument Decoding
// --------------------------------------------------------------------------

// resolve returns the handle behind t. The kind is verified when the handle is borrowed,
// anything that is not a handle gets its wrong resource error from the registry.
func resolve(m *Module, t term.Term, kind resource.Kind) (*resource.Handle, error) {
	if h, ok := t.(*resource.Handle); ok && h != nil {
		return h, nil
	}
	_, _, err := m.registry.Borrow(t, kind)
	return nil, boundary.Translate(err)
}

func binaryArg(t term.Term) ([]byte, error) {
	b, err := term.Decode(t)
	return b, boundary.Translate(err)
}

func handleResult(h *resource.Handle, err error) (term.Term, error) {
	if err != nil {
		return nil, err
	}
	return h, nil
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

func callConfigNew(_ context.Context, m *Module, args []term.Term) (term.Term, error) {
	options, err := term.DecodeMap(args[0])
	if err != nil {
		return nil, boundary.Translate(err)
	}
	plain, err := options.ToOptions()
	if err != nil {
		return nil, boundary.Translate(err)
	}
	return handleResult(m.ConfigNew(plain))
}

func callConfigOpen(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	cfg, err := resolve(m, args[0], resource.KindConfig)
	if err != nil {
		return nil, err
	}
	return handleResult(m.ConfigOpen(ctx, cfg))
}

func callOpen(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	path, err := term.DecodeString(args[0])
	if err != nil {
		return nil, boundary.Translate(err)
	}
	return handleResult(m.Open(ctx, path))
}

// --------------------------------------------------------------------------
// Database Operations
// --------------------------------------------------------------------------

func callDbChecksum(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	d, err := resolve(m, args[0], resource.KindDatabase)
	if err != nil {
		return nil, err
	}
	sum, err := m.DbChecksum(ctx, d)
	return term.Integer(sum), err
}

func callSizeOnDisk(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	d, err := resolve(m, args[0], resource.KindDatabase)
	if err != nil {
		return nil, err
	}
	size, err := m.SizeOnDisk(ctx, d)
	return term.Integer(size), err
}

func callWasRecovered(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	d, err := resolve(m, args[0], resource.KindDatabase)
	if err != nil {
		return nil, err
	}
	recovered, err := m.WasRecovered(ctx, d)
	return term.Bool(recovered), err
}

func callTreeOpen(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	d, err := resolve(m, args[0], resource.KindDatabase)
	if err != nil {
		return nil, err
	}
	name, err := binaryArg(args[1])
	if err != nil {
		return nil, err
	}
	return handleResult(m.TreeOpen(ctx, d, name))
}

func callTreeDrop(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	d, err := resolve(m, args[0], resource.KindDatabase)
	if err != nil {
		return nil, err
	}
	name, err := binaryArg(args[1])
	if err != nil {
		return nil, err
	}
	existed, err := m.TreeDrop(ctx, d, name)
	return term.Bool(existed), err
}

func callTreeNames(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	d, err := resolve(m, args[0], resource.KindDatabase)
	if err != nil {
		return nil, err
	}
	names, err := m.TreeNames(ctx, d)
	if err != nil {
		return nil, err
	}
	return term.EncodeList(names), nil
}

// --------------------------------------------------------------------------
// Tree Operations
// --------------------------------------------------------------------------

func callChecksum(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	t, err := resolve(m, args[0], resource.KindTree)
	if err != nil {
		return nil, err
	}
	sum, err := m.Checksum(ctx, t)
	return term.Integer(sum), err
}

func callFlush(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	t, err := resolve(m, args[0], resource.KindTree)
	if err != nil {
		return nil, err
	}
	n, err := m.Flush(ctx, t)
	return term.Integer(n), err
}

func callInsert(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	t, err := resolve(m, args[0], resource.KindTree)
	if err != nil {
		return nil, err
	}
	key, err := binaryArg(args[1])
	if err != nil {
		return nil, err
	}
	value, err := binaryArg(args[2])
	if err != nil {
		return nil, err
	}
	return optional(m.Insert(ctx, t, key, value))
}

func callGet(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	t, err := resolve(m, args[0], resource.KindTree)
	if err != nil {
		return nil, err
	}
	key, err := binaryArg(args[1])
	if err != nil {
		return nil, err
	}
	return optional(m.Get(ctx, t, key))
}

func callRemove(ctx context.Context, m *Module, args []term.Term) (term.Term, error) {
	t, err := resolve(m, args[0], resource.KindTree)
	if err != nil {
		return nil, err
	}
	key, err := binaryArg(args[1])
	if err != nil {
		return nil, err
	}
	return optional(m.Remove(ctx, t, key))
}

func optional(v []byte, found bool, err error) (term.Term, error) {
	if err != nil {
		return nil, err
	}
	return term.EncodeOptional(v, found), nil
}
