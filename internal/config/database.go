// internal/config/database.go
package config

import (
	"fmt"
	"strings"
)

// DSN renders the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		sep := "?"
		if strings.Contains(d.SQLitePath, "?") {
			sep = "&"
		}
		return d.SQLitePath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}
