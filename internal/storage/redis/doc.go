// Package redis 提供基于 Redis 的身份存储实现，适合多实例共享同一批托管身份的部署。
package redis
