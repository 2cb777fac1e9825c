package server

import (
	stderrors "errors"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"

	"github.com/go-tangra/go-tangra-assets/internal/backup"
	"github.com/go-tangra/go-tangra-assets/internal/filelock"
	"github.com/go-tangra/go-tangra-assets/internal/lifecycle"
	"github.com/go-tangra/go-tangra-assets/internal/service"
)

// StatusLocked is returned while another process has the store open or is
// restoring it.
const StatusLocked = 423

// toHTTPError maps application errors onto kratos errors. The reason string
// is stable and meant for clients; the message is for people.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var ibe *backup.InvalidBackupError
	var rpe *backup.ReplaceError
	switch {
	case stderrors.As(err, &ibe):
		md := map[string]string{"path": ibe.Path}
		if ibe.Detail != "" {
			md["detail"] = ibe.Detail
		}
		return errors.BadRequest("INVALID_BACKUP_"+strings.ToUpper(string(ibe.Reason)), err.Error()).WithMetadata(md)
	case stderrors.Is(err, backup.ErrSameFile):
		return errors.BadRequest("SAME_FILE", err.Error())
	case stderrors.Is(err, service.ErrInvalid):
		return errors.BadRequest("INVALID_ASSET", err.Error())
	case stderrors.Is(err, service.ErrNotFound):
		return errors.NotFound("ASSET_NOT_FOUND", err.Error())
	case stderrors.Is(err, service.ErrDuplicateName):
		return errors.Conflict("DUPLICATE_HOSTNAME", err.Error())
	case stderrors.Is(err, filelock.ErrLocked):
		return errors.New(StatusLocked, "STORE_LOCKED", err.Error())
	case stderrors.Is(err, lifecycle.ErrClosed):
		return errors.ServiceUnavailable("STORE_UNAVAILABLE", err.Error())
	case stderrors.As(err, &rpe):
		md := map[string]string{}
		if rpe.SnapshotPath != "" {
			md["snapshot"] = rpe.SnapshotPath
		}
		return errors.InternalServer("RESTORE_FAILED", err.Error()).WithMetadata(md)
	}

	if se := new(errors.Error); stderrors.As(err, &se) {
		return se
	}
	return errors.InternalServer("INTERNAL", err.Error())
}
