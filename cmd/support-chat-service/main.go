package main

import (
	"log"

	"github.com/psds-microservice/support-chat-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
