package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type Conversion struct {
	Parquet bool
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Conversion{}, "Parquet"); err != nil {
		return fmt.Errorf("error adding parquet column: %w", err)
	}

	// conversions created before the column existed always wrote parquet files
	if err := db.Model(&Conversion{}).Where("1 = 1").Update("parquet", true).Error; err != nil {
		return fmt.Errorf("error setting parquet for existing conversions: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Conversion{}, "Parquet"); err != nil {
		return fmt.Errorf("error dropping parquet column: %w", err)
	}
	return nil
}
