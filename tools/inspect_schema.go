// inspect_schema prints the tables and indexes AutoMigrate creates, using an
// in-memory SQLite database. Run it after changing a model.
package main

import (
	"fmt"
	"log"

	"github.com/localnerve/stemflow/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type schemaObject struct {
	Type string
	Name string
	SQL  string
}

func main() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	// Auto-migrate to see what GORM creates
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal(err)
	}

	var objects []schemaObject
	err = db.Raw(`SELECT type, name, sql FROM sqlite_master
		WHERE type IN ('table', 'index') AND sql IS NOT NULL
		ORDER BY tbl_name, type DESC, name`).Scan(&objects).Error
	if err != nil {
		log.Fatal(err)
	}

	for _, obj := range objects {
		if obj.Type == "table" {
			fmt.Printf("\n=== Table: %s ===\n", obj.Name)
		}
		fmt.Println(obj.SQL)
	}
}
