/*
Package boundary turns everything that can go wrong inside the native module into
tagged results.

Engine errors (*db.Error) keep their kind, configuration and resource errors carry
their own tag (via the Tagged interface) and malformed arguments become badarg.
The mapping is:

	db.KindIO            -> io
	db.KindCorruption    -> corruption
	db.KindCollision     -> collision
	db.KindReportableBug -> reportable_bug
	db.KindUnsupported   -> unsupported
	config validation    -> config
	wrong handle kind    -> wrong_resource
	caught panic         -> panic
	malformed argument   -> badarg

Every operation runs inside Guard, which catches panics (sourcegraph/conc/panics),
logs the stack and reports TagPanic instead of crashing the host. ToTerm and OK build
the host representation: {error, Tag, <<detail>>} and {ok, Value}. The original
diagnostic text is kept as detail; callers branch on the tag.
*/
package boundary
