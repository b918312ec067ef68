package migrations

import (
	"github.com/churnguard/intervention-engine/internal/domain"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_interventions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Intervention{}); err != nil {
					return err
				}
				statements := []string{
					`ALTER TABLE interventions ADD CONSTRAINT chk_interventions_action_type CHECK (action_type IN ('nudge', 'support', 'offer'))`,
					`ALTER TABLE interventions ADD CONSTRAINT chk_interventions_source CHECK (source IN ('manual', 'sentinel', 'api'))`,
					`ALTER TABLE interventions ADD CONSTRAINT chk_interventions_outcome CHECK (outcome IN ('pending', 'success', 'failure'))`,
					`CREATE INDEX IF NOT EXISTS idx_interventions_user_created ON interventions (user_id, created_at DESC)`,
					`CREATE INDEX IF NOT EXISTS idx_interventions_pending_window ON interventions (created_at) WHERE outcome = 'pending'`,
					`CREATE INDEX IF NOT EXISTS idx_interventions_source_created ON interventions (source, created_at)`,
				}
				for _, sql := range statements {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Intervention{})
			},
		},
	})

	return m.Migrate()
}
