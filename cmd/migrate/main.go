// Command migrate creates or updates the database schema. With
// -import-legacy it also copies rows from a first-generation articles
// table into documents.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/inkwell-cms/inkwell-backend/internal/config"
	"github.com/inkwell-cms/inkwell-backend/internal/migration"
)

func main() {
	legacyTable := flag.String("import-legacy", "", "legacy articles table to import after migrating")
	flag.Parse()

	config.LoadDotEnv()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	cfg, err := config.Load(fmt.Sprintf("configs/config.%s.yaml", env))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := gorm.Open(mysql.Open(cfg.DB.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migration complete")

	if *legacyTable != "" {
		n, err := migration.ImportLegacy(db, *legacyTable)
		if err != nil {
			log.Fatalf("Legacy import failed after %d documents: %v", n, err)
		}
		log.Printf("Imported %d legacy documents", n)
	}
}
