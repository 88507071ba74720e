package models

import (
	"log"

	"bitbucket.org/mmdatafocus/crm_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&CustomerSale{},
		&WorkPointConnection{}, &SyncRun{}, &SyncRunError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
