// Package api 暴露代理池的 HTTP 接口：创建与查询代理、调度任务、查询身份，
// 以及健康检查与 Prometheus 指标。
package api
