package repository

import (
	"context"

	"gorm.io/gorm"

	"tunnel-agent/controlplane/internal/model"
)

func (r *GormRepository) CreateClient(ctx context.Context, c *model.Client) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *GormRepository) ListClients(ctx context.Context) ([]model.Client, error) {
	var out []model.Client
	if err := r.db.WithContext(ctx).Order("created_at").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormRepository) GetClient(ctx context.Context, id string) (model.Client, error) {
	var c model.Client
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return model.Client{}, mapErr(err)
	}
	return c, nil
}

func (r *GormRepository) UpdateHeartbeat(ctx context.Context, id string, u HeartbeatUpdate) error {
	res := r.db.WithContext(ctx).Model(&model.Client{}).Where("id = ?", id).Updates(map[string]any{
		"server_running": u.ServerRunning,
		"client_active":  u.ClientActive,
		"system_cpu":     u.SystemCPU,
		"system_mem_mb":  u.SystemMemMB,
		"server_cpu":     u.ServerCPU,
		"server_mem_mb":  u.ServerMemMB,
		"tunnels":        u.Tunnels,
		"last_seen":      u.SeenAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClient also frees every key the client held.
func (r *GormRepository) DeleteClient(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Lease{}).Where("client_id = ?", id).
			Updates(map[string]any{"client_id": "", "leased_at": nil}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Command{}, "client_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Client{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}
