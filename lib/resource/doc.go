/*
Package resource manages the opaque handles the native module hands to its callers.

There are three kinds of resources: KindDatabase, KindTree and KindConfig. Each kind is
registered exactly once (RegisterKind) together with the function that releases a wrapped
value. Registration happens when the module is loaded, before any operation can run.

# Lifecycle

Wrap stores a value in an entry and returns its first *Handle. Clone hands out another
handle to the same entry without copying the value. An entry counts its live handles and
its active borrows; when both are gone the release function runs, exactly once. A handle
is released explicitly with Release or by the garbage collector once it is unreachable
(runtime.SetFinalizer).

# Borrowing

Operations never use a value without pinning it:

	db, done, err := resource.Typed[db.Database](registry, arg, resource.KindDatabase)
	if err != nil {
		return err // wrong_resource
	}
	defer done()

A borrow keeps the entry alive even if the last handle is released (or finalized)
concurrently. Passing a handle of another kind, of another registry or a released handle
fails with a *WrongResourceError, which the boundary reports as wrong_resource.

Bookkeeping uses an xsync.MapOf and atomics only, no lock is held while an operation runs.
*/
package resource
