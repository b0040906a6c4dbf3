package bolt

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/db/engines/bolt/internal"
	berrors "go.etcd.io/bbolt/errors"
)

// mapError converts errors of bbolt, the codec and the OS into *db.Error
func mapError(msg string, err error) error {
	if err == nil {
		return nil
	}

	var dbErr *db.Error
	if errors.As(err, &dbErr) {
		return err
	}

	switch {
	case errors.Is(err, berrors.ErrTimeout):
		return db.NewError(db.KindCollision, msg+": database is locked by another instance", err)

	case errors.Is(err, berrors.ErrInvalid),
		errors.Is(err, berrors.ErrVersionMismatch),
		errors.Is(err, berrors.ErrChecksum),
		errors.Is(err, berrors.ErrInvalidMapping),
		errors.Is(err, internal.ErrCorruptValue):
		return db.NewError(db.KindCorruption, msg, err)

	case errors.Is(err, berrors.ErrDatabaseReadOnly),
		errors.Is(err, berrors.ErrTxNotWritable),
		errors.Is(err, berrors.ErrKeyRequired),
		errors.Is(err, berrors.ErrKeyTooLarge),
		errors.Is(err, berrors.ErrValueTooLarge),
		errors.Is(err, berrors.ErrBucketNameRequired):
		return db.NewError(db.KindUnsupported, msg, err)

	case errors.Is(err, berrors.ErrDatabaseNotOpen),
		errors.Is(err, berrors.ErrTxClosed),
		errors.Is(err, berrors.ErrIncompatibleValue):
		return db.NewError(db.KindReportableBug, msg, err)
	}

	var pathErr *fs.PathError
	var errno syscall.Errno
	if errors.As(err, &pathErr) || errors.As(err, &errno) ||
		errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) || errors.Is(err, fs.ErrPermission) {
		return db.NewError(db.KindIO, msg, err)
	}

	return db.NewError(db.KindReportableBug, msg, err)
}

var errClosedReference = db.NewError(db.KindReportableBug, "reference used after close", nil)
