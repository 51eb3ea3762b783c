package main

import (
	"log"

	"github.com/anklab/avahi-advertiser/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ avahi-advertiser failed to start: %v", err)
	}
}
