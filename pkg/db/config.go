package db

import "github.com/smallbiznis/partnerly/internal/config"

// Pool holds connection pool tuning shared by every dialect.
type Pool struct {
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

// PoolConfig derives pool settings from the application config, falling back
// to conservative defaults when unset.
func PoolConfig(cfg config.Config) Pool {
	pool := Pool{
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
	if pool.MaxIdleConn <= 0 {
		pool.MaxIdleConn = 5
	}
	if pool.MaxOpenConn <= 0 {
		pool.MaxOpenConn = 25
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 1800
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = 300
	}
	return pool
}
