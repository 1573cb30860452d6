package repository

import (
	"context"

	"gorm.io/gorm"

	"tunnel-agent/controlplane/internal/model"
)

func (r *GormRepository) EnqueueCommand(ctx context.Context, c *model.Command) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *GormRepository) TakeCommands(ctx context.Context, clientID string) ([]model.Command, error) {
	var out []model.Command
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("client_id = ?", clientID).Order("created_at, id").Find(&out).Error; err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		ids := make([]string, len(out))
		for i, c := range out {
			ids[i] = c.ID
		}
		return tx.Delete(&model.Command{}, "id IN ?", ids).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) CountPendingCommands(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		ClientID string
		N        int
	}
	if err := r.db.WithContext(ctx).Model(&model.Command{}).
		Select("client_id, count(*) as n").
		Group("client_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.ClientID] = row.N
	}
	return out, nil
}
