package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"BlinkPay/internal/db"
	"BlinkPay/utils"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the merchants, obligations and settlements tables",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := utils.NewLogger(cfg.App.LogLevel)
	defer func() { _ = log.Sync() }()

	conn, err := db.Open(cfg.MySQL)
	if err != nil {
		return err
	}
	// 运行表结构迁移（创建新表或更新表结构）
	if err := db.AutoMigrate(conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("database migrated", "host", cfg.MySQL.Host, "dbname", cfg.MySQL.DBName)
	return nil
}
