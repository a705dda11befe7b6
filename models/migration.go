package models

import (
	"log"

	"bitbucket.org/mmdatafocus/books_sync/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{},
		&User{},
		&ConflictRecord{},
		&ResolutionEvent{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
