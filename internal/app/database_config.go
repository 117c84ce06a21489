package app

import "github.com/charlesng35/robotdesk/internal/database"

// ConnectionConfig converts DatabaseConfig into the database package representation.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	block := c.driverBlock()
	return database.Config{
		Driver:   c.Driver,
		Path:     c.Path,
		DSN:      c.DSN,
		Host:     block.Host,
		Port:     block.Port,
		Name:     block.Database,
		User:     block.Username,
		Password: block.Password,
		Options:  block.Options,
		Pool: database.Pool{
			MaxOpenConns:    c.Pool.MaxOpenConns,
			MaxIdleConns:    c.Pool.MaxIdleConns,
			ConnMaxLifetime: c.Pool.ConnMaxLifetime,
		},
	}
}
