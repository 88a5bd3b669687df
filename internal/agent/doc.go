// Package agent 管理由规划结果生成的代理池，并把自然语言任务分发给指定代理。
// 每个代理绑定一个钱包身份和一组受限的链上能力，推理引擎只能调用这些能力。
package agent
