package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tunnel-agent/controlplane/internal/model"
)

func (r *GormRepository) SeedLeases(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	rows := make([]model.Lease, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, model.Lease{Key: k})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *GormRepository) ListLeases(ctx context.Context) ([]model.Lease, error) {
	var out []model.Lease
	if err := r.db.WithContext(ctx).Order("token").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) AcquireLease(ctx context.Context, clientID string, now time.Time) (model.Lease, error) {
	var out model.Lease
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {

		err := tx.First(&out, "client_id = ?", clientID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.Order("token").First(&out, "client_id = ?", "").Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoFreeLease
		}
		if err != nil {
			return err
		}
		out.ClientID = clientID
		out.LeasedAt = &now
		return tx.Model(&model.Lease{}).Where("token = ? AND client_id = ?", out.Key, "").
			Updates(map[string]any{"client_id": clientID, "leased_at": now}).Error
	})
	if err != nil {
		return model.Lease{}, err
	}
	return out, nil
}

func (r *GormRepository) ReleaseLease(ctx context.Context, clientID, key string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Lease{}).
		Where("token = ? AND client_id = ?", key, clientID).
		Updates(map[string]any{"client_id": "", "leased_at": nil})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) FetchClientsPageData(ctx context.Context) (ClientsPageData, error) {
	var data ClientsPageData
	var err error
	if data.Clients, err = r.ListClients(ctx); err != nil {
		return ClientsPageData{}, err
	}
	if data.Pending, err = r.CountPendingCommands(ctx); err != nil {
		return ClientsPageData{}, err
	}
	if data.Leases, err = r.ListLeases(ctx); err != nil {
		return ClientsPageData{}, err
	}
	return data, nil
}
