// Package main generates registry API keys and bcrypt hashes for registry.api_key_hash.
//
//	hash            generate a new key and print it with its hash
//	hash <key>      print the hash of an existing key
//
// Only the hash needs to be placed in the server configuration; the key itself
// is handed to clients as their X-NuGet-ApiKey value.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/nuget-registry/nuget-registry/internal/auth"
)

func main() {
	if len(os.Args) > 1 {
		hash, err := auth.HashAPIKey(os.Args[1])
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Println(hash)
		return
	}

	key, hash, _, err := auth.GenerateAPIKey("nuget")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("api key:      %s\n", key)
	fmt.Printf("api_key_hash: %s\n", hash)
}
