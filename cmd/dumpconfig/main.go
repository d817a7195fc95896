// Command dumpconfig prints the effective configuration with credentials
// redacted, for debugging env/file precedence.
package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/haoran127/costix/internal/config"
)

func main() {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg.Database.URL = redact(cfg.Database.URL)
	cfg.Redis.URL = redact(cfg.Redis.URL)
	cfg.Admin.JWTSecret = redact(cfg.Admin.JWTSecret)
	for i := range cfg.Accounts {
		cfg.Accounts[i].AdminCredential = redact(cfg.Accounts[i].AdminCredential)
	}

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		log.Fatalf("encode config: %v", err)
	}
	fmt.Println(string(out))
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}
