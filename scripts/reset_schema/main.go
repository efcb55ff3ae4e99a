// Drops the realtime tables so the messaging service can rebuild them on
// next start. Development aid only.
package main

import (
	"log"

	"github.com/inkwell-app/realtime/pkg/db"
)

func main() {
	session, err := db.NewSession([]string{"localhost:9042"}, "realtime")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, table := range []string{"messages", "dm_messages", "users"} {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop %s: %v", table, err)
		}
	}
	log.Println("Done.")
}
