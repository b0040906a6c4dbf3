/*
Package native is the operation façade of nKV: the fourteen functions a host runtime
calls to work with embedded key-value databases.

A Module is created with Load. Load registers the resource kinds (database, tree and
config) and starts the blocking pool; no function is callable before it returned.

	m, err := native.Load()
	if err != nil {
		return err
	}
	defer m.Close()

	dbh, err := m.Open(ctx, "/var/lib/app/kv")
	tree, err := m.TreeOpen(ctx, dbh, []byte("users"))
	prev, found, err := m.Insert(ctx, tree, []byte("alice"), []byte("admin"))

There are two ways to call the module:

  - The typed API: one method per function. Lookups return (value, found, error), absence
    is found == false and never an error. Errors are *boundary.Error values carrying a
    tag, except context errors which are returned as they are.

  - The term API: Call(ctx, name, args...) takes host terms and returns {ok, Value} or
    {error, Tag, <<detail>>}. Absence is the nil atom. Malformed arguments and unknown
    functions yield badarg.

Scheduling:

	Every function that may touch the filesystem is declared dirty_io in the function table
	and runs on the scheduler pool. The caller only waits for the result. If its context is
	cancelled the operation still completes against the engine and the result is
	discarded, handles opened by such an operation are closed again. config_new is the
	only normal function, it never performs I/O.

Arguments are validated (kind of handle, shape of terms, configuration keys) before
anything is dispatched. Every call is timed and failures are counted by tag in the
module's metric set (VictoriaMetrics), see WritePrometheus.
*/
package native
