package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRecord is the row shape of the documents table.
type DocumentRecord struct {
	Key       string         `gorm:"column:doc_key;primaryKey;size:512"`
	Body      datatypes.JSON `gorm:"column:body;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

func (DocumentRecord) TableName() string { return "documents" }

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn}
}

func (s *GormStore) Read(ctx context.Context, key string) (*domain.Document, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).Where("doc_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &domain.Document{Key: rec.Key, Body: rec.Body, UpdatedAt: rec.UpdatedAt}, nil
}

func (s *GormStore) Write(ctx context.Context, key string, body any) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	raw, err := domain.EncodeBody(body)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec := DocumentRecord{Key: key, Body: raw, CreatedAt: now, UpdatedAt: now}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&rec).Error
	return wrap(err)
}

func (s *GormStore) List(ctx context.Context, prefix string, opts ...domain.ListOption) ([]domain.Document, error) {
	o := domain.ApplyListOptions(opts)

	order := "doc_key ASC"
	if o.Descending {
		order = "doc_key DESC"
	}
	q := s.db.WithContext(ctx).Model(&DocumentRecord{}).Order(order)
	if prefix != "" {
		q = q.Where("doc_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if o.Limit > 0 {
		q = q.Limit(o.Limit)
	}

	var rows []DocumentRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap(err)
	}
	out := make([]domain.Document, 0, len(rows))
	for _, rec := range rows {
		out = append(out, domain.Document{Key: rec.Key, Body: rec.Body, UpdatedAt: rec.UpdatedAt})
	}
	return out, nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return wrap(s.db.WithContext(ctx).Where("doc_key = ?", key).Delete(&DocumentRecord{}).Error)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if db.IsConnectionErr(err) {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return fmt.Errorf("docstore: %w", err)
}

var _ domain.Store = (*GormStore)(nil)
