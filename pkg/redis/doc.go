// Package redis connects the billing service to Redis through go-redis.
//
// Redis only backs the usage counter cache (see usage.RedisCache); the
// relational store stays the source of truth. Connect retries until the
// server answers and Healthcheck plugs into the /healthz handler.
package redis
