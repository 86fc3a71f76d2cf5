package main

import (
	"log"

	"webhook-delivery/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
