package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/marketplace/domain"
	"go.uber.org/zap"
)

type repo struct {
	store docdomain.Store
	log   *zap.Logger
}

func New(store docdomain.Store, log *zap.Logger) domain.Repository {
	if log == nil {
		log = zap.NewNop()
	}
	return &repo{store: store, log: log.Named("marketplace.repository")}
}

func (r *repo) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return get[domain.Project](ctx, r.store, docdomain.ProjectKey(id))
}

func (r *repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	items, corrupt, err := docdomain.ListAs[domain.Project](ctx, r.store, docdomain.PrefixProjects)
	r.logCorrupt(corrupt)
	return items, err
}

func (r *repo) SaveProject(ctx context.Context, p domain.Project) error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	return docdomain.Put(ctx, r.store, docdomain.ProjectKey(p.ID), p)
}

func (r *repo) GetTask(ctx context.Context, projectID, taskID string) (*domain.Task, error) {
	return get[domain.Task](ctx, r.store, docdomain.TaskKey(projectID, taskID))
}

func (r *repo) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	items, corrupt, err := docdomain.ListAs[domain.Task](ctx, r.store, docdomain.TaskPrefix(projectID))
	r.logCorrupt(corrupt)
	return items, err
}

func (r *repo) SaveTask(ctx context.Context, t domain.Task) error {
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.ProjectID) == "" {
		return errors.New("task id and project id are required")
	}
	return docdomain.Put(ctx, r.store, docdomain.TaskKey(t.ProjectID, t.ID), t)
}

func (r *repo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return get[domain.User](ctx, r.store, docdomain.UserKey(id))
}

func (r *repo) SaveUser(ctx context.Context, u domain.User) error {
	if u.ID <= 0 {
		return errors.New("user id is required")
	}
	return docdomain.Put(ctx, r.store, docdomain.UserKey(u.ID), u)
}

func (r *repo) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	return get[domain.Organization](ctx, r.store, docdomain.OrganizationKey(id))
}

func (r *repo) SaveOrganization(ctx context.Context, o domain.Organization) error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("organization id is required")
	}
	return docdomain.Put(ctx, r.store, docdomain.OrganizationKey(o.ID), o)
}

func (r *repo) logCorrupt(keys []string) {
	for _, k := range keys {
		r.log.Warn("marketplace.corrupt_document", zap.String("key", k))
	}
}

func get[T any](ctx context.Context, store docdomain.Store, key string) (*T, error) {
	if strings.TrimSpace(key) == "" || strings.HasSuffix(key, "/") {
		return nil, domain.ErrNotFound
	}
	out, err := docdomain.Get[T](ctx, store, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if out == nil {
		return nil, domain.ErrNotFound
	}
	return out, nil
}
