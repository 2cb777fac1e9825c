package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	kratoshttp "github.com/go-kratos/kratos/v2/transport/http"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/go-tangra/go-tangra-assets/internal/backup"
	"github.com/go-tangra/go-tangra-assets/internal/lifecycle"
	"github.com/go-tangra/go-tangra-assets/internal/modelimage"
	"github.com/go-tangra/go-tangra-assets/internal/service"
	"github.com/go-tangra/go-tangra-assets/internal/store"
)

// Operation names, as seen by middleware and in logs.
const (
	OperationListAssets     = "/tangra.assets.v1.AssetService/ListAssets"
	OperationGetAsset       = "/tangra.assets.v1.AssetService/GetAsset"
	OperationCreateAsset    = "/tangra.assets.v1.AssetService/CreateAsset"
	OperationUpdateAsset    = "/tangra.assets.v1.AssetService/UpdateAsset"
	OperationDeleteAsset    = "/tangra.assets.v1.AssetService/DeleteAsset"
	OperationHostnameExists = "/tangra.assets.v1.AssetService/HostnameExists"
	OperationModelImage     = "/tangra.assets.v1.AssetService/ModelImage"
	OperationListBackups    = "/tangra.assets.v1.StoreService/ListBackups"
	OperationCreateBackup   = "/tangra.assets.v1.StoreService/CreateBackup"
	OperationValidateBackup = "/tangra.assets.v1.StoreService/ValidateBackup"
	OperationRestore        = "/tangra.assets.v1.StoreService/Restore"
)

type ListAssetsReply struct {
	Assets []store.Record `json:"assets"`
	Total  int            `json:"total"`
}

type HostnameExistsReply struct {
	Exists bool `json:"exists"`
}

type ListBackupsReply struct {
	Backups []backup.Snapshot `json:"backups"`
}

type CreateBackupReply struct {
	Skipped bool     `json:"skipped"`
	Created string   `json:"created,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// PathRequest names a database file on the server's file system.
type PathRequest struct {
	Path string `json:"path"`
}

type ValidateBackupReply struct {
	Valid bool `json:"valid"`
}

type RestoreReply struct {
	SnapshotPath string `json:"snapshot_path,omitempty"`
	Atomic       bool   `json:"atomic"`
}

type api struct {
	manager *lifecycle.Manager
	assets  *service.AssetService
	images  *modelimage.Resolver
	health  *Health
}

// registerRoutes mounts the REST API on srv.
func registerRoutes(srv *kratoshttp.Server, a *api) {
	r := srv.Route("/v1")

	r.GET("/assets", a.listAssets)
	r.POST("/assets", a.createAsset)
	r.GET("/assets/{id}", a.getAsset)
	r.PUT("/assets/{id}", a.updateAsset)
	r.DELETE("/assets/{id}", a.deleteAsset)
	r.GET("/hostnames/{name}", a.hostnameExists)
	r.GET("/models/{model}/image", a.modelImage)

	r.GET("/backups", a.listBackups)
	r.POST("/backups", a.createBackup)
	r.POST("/backups/validate", a.validateBackup)
	r.POST("/restore", a.restore)

	r.GET("/health", a.checkHealth)
}

// invoke runs call through the server middleware and writes the reply.
func invoke(ctx kratoshttp.Context, op string, code int, req any, call middleware.Handler) error {
	kratoshttp.SetOperation(ctx, op)
	h := ctx.Middleware(func(c context.Context, req any) (any, error) {
		out, err := call(c, req)
		return out, toHTTPError(err)
	})
	out, err := h(ctx, req)
	if err != nil {
		return err
	}
	return ctx.Result(code, out)
}

func pathID(ctx kratoshttp.Context) (int64, error) {
	raw := ctx.Vars().Get("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.BadRequest("INVALID_ID", "invalid asset id "+strconv.Quote(raw))
	}
	return id, nil
}

func queryInt(ctx kratoshttp.Context, name string) (int, error) {
	raw := strings.TrimSpace(ctx.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.BadRequest("INVALID_QUERY", "invalid "+name+" "+strconv.Quote(raw))
	}
	return n, nil
}

func bindBody(ctx kratoshttp.Context, v any) error {
	if err := ctx.Bind(v); err != nil {
		return errors.BadRequest("INVALID_BODY", err.Error())
	}
	return nil
}

func (a *api) listAssets(ctx kratoshttp.Context) error {
	f := store.ListFilter{
		Site: strings.TrimSpace(ctx.Query().Get("site")),
		Room: strings.TrimSpace(ctx.Query().Get("room")),
	}
	var err error
	if f.Page, err = queryInt(ctx, "page"); err != nil {
		return err
	}
	if f.PageSize, err = queryInt(ctx, "page_size"); err != nil {
		return err
	}

	return invoke(ctx, OperationListAssets, http.StatusOK, &f, func(c context.Context, req any) (any, error) {
		recs, total, err := a.assets.Search(c, *req.(*store.ListFilter))
		if err != nil {
			return nil, err
		}
		if recs == nil {
			recs = []store.Record{}
		}
		return &ListAssetsReply{Assets: recs, Total: total}, nil
	})
}

func (a *api) getAsset(ctx kratoshttp.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return invoke(ctx, OperationGetAsset, http.StatusOK, id, func(c context.Context, req any) (any, error) {
		return a.assets.Get(c, req.(int64))
	})
}

func (a *api) createAsset(ctx kratoshttp.Context) error {
	var in store.Record
	if err := bindBody(ctx, &in); err != nil {
		return err
	}
	return invoke(ctx, OperationCreateAsset, http.StatusCreated, &in, func(c context.Context, req any) (any, error) {
		return a.assets.Create(c, *req.(*store.Record))
	})
}

func (a *api) updateAsset(ctx kratoshttp.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	var in store.Record
	if err := bindBody(ctx, &in); err != nil {
		return err
	}
	in.ID = id
	return invoke(ctx, OperationUpdateAsset, http.StatusOK, &in, func(c context.Context, req any) (any, error) {
		return a.assets.Update(c, *req.(*store.Record))
	})
}

func (a *api) deleteAsset(ctx kratoshttp.Context) error {
	id, err := pathID(ctx)
	if err != nil {
		return err
	}
	return invoke(ctx, OperationDeleteAsset, http.StatusNoContent, id, func(c context.Context, req any) (any, error) {
		return nil, a.assets.Delete(c, req.(int64))
	})
}

func (a *api) hostnameExists(ctx kratoshttp.Context) error {
	name := ctx.Vars().Get("name")
	var exclude int64
	if raw := strings.TrimSpace(ctx.Query().Get("exclude_id")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errors.BadRequest("INVALID_QUERY", "invalid exclude_id "+strconv.Quote(raw))
		}
		exclude = n
	}
	return invoke(ctx, OperationHostnameExists, http.StatusOK, name, func(c context.Context, req any) (any, error) {
		ok, err := a.assets.NameExists(c, req.(string), exclude)
		if err != nil {
			return nil, err
		}
		return &HostnameExistsReply{Exists: ok}, nil
	})
}

// modelImage streams the picture for a model straight from disk.
func (a *api) modelImage(ctx kratoshttp.Context) error {
	kratoshttp.SetOperation(ctx, OperationModelImage)
	h := ctx.Middleware(func(c context.Context, req any) (any, error) {
		model := req.(string)
		path, ok := a.images.Resolve(model)
		if !ok {
			return nil, errors.NotFound("IMAGE_NOT_FOUND", "no image for model "+strconv.Quote(model))
		}
		return path, nil
	})
	out, err := h(ctx, ctx.Vars().Get("model"))
	if err != nil {
		return err
	}
	http.ServeFile(ctx.Response(), ctx.Request(), out.(string))
	return nil
}

func (a *api) listBackups(ctx kratoshttp.Context) error {
	return invoke(ctx, OperationListBackups, http.StatusOK, nil, func(context.Context, any) (any, error) {
		snaps, err := a.manager.Backups()
		if err != nil {
			return nil, err
		}
		if snaps == nil {
			snaps = []backup.Snapshot{}
		}
		return &ListBackupsReply{Backups: snaps}, nil
	})
}

func (a *api) createBackup(ctx kratoshttp.Context) error {
	return invoke(ctx, OperationCreateBackup, http.StatusOK, nil, func(c context.Context, _ any) (any, error) {
		res, err := a.manager.Backup(c)
		if err != nil {
			return nil, err
		}
		return &CreateBackupReply{Skipped: res.Skipped, Created: res.Created, Removed: res.Removed}, nil
	})
}

func (a *api) validateBackup(ctx kratoshttp.Context) error {
	var in PathRequest
	if err := bindBody(ctx, &in); err != nil {
		return err
	}
	return invoke(ctx, OperationValidateBackup, http.StatusOK, &in, func(c context.Context, req any) (any, error) {
		if err := a.manager.Validate(c, req.(*PathRequest).Path); err != nil {
			return nil, err
		}
		return &ValidateBackupReply{Valid: true}, nil
	})
}

func (a *api) restore(ctx kratoshttp.Context) error {
	var in PathRequest
	if err := bindBody(ctx, &in); err != nil {
		return err
	}
	return invoke(ctx, OperationRestore, http.StatusOK, &in, func(c context.Context, req any) (any, error) {
		res, err := a.manager.Restore(c, req.(*PathRequest).Path)
		if err != nil {
			return nil, err
		}
		return &RestoreReply{SnapshotPath: res.SnapshotPath, Atomic: res.Atomic}, nil
	})
}

// checkHealth skips the middleware chain so probes need no API key.
func (a *api) checkHealth(ctx kratoshttp.Context) error {
	res, err := a.health.Check(ctx)
	if err != nil {
		return errors.ServiceUnavailable("UNHEALTHY", err.Error())
	}
	code := http.StatusOK
	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		code = http.StatusServiceUnavailable
	}
	return ctx.Result(code, res)
}
