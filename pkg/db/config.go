package db

// Config carries the connection settings Open needs to build a pooled
// gorm handle. Duration fields are in seconds.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}
